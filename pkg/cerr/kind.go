package cerr

import "errors"

// Kind groups Codes by how the caller is expected to react.
type Kind int

const (
	// KindInternal is a local failure that fits no other kind.
	KindInternal Kind = iota
	// KindValidation is missing or invalid local input. It never reaches the network.
	KindValidation
	// KindAuth means there is no usable session; the worker has to sign in again.
	KindAuth
	// KindTransport is a connectivity failure and is safe to retry.
	KindTransport
	// KindServer is a request the worker API rejected, whatever the status
	// code it used to say so. Its message is shown as is.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	default:
		return "internal"
	}
}

func KindOf(err error) Kind {
	var cerr *Error
	if !errors.As(err, &cerr) {
		return KindInternal
	}
	if cerr.Code == Unauthenticated {
		return KindAuth
	}
	if cerr.Status != 0 {
		return KindServer
	}
	switch cerr.Code {
	case InvalidArgument, FailedPrecondition, Aborted, AlreadyExists, OutOfRange:
		return KindValidation
	case Unavailable, DeadlineExceeded:
		return KindTransport
	default:
		return KindInternal
	}
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsAuth(err error) bool       { return KindOf(err) == KindAuth }
func IsTransport(err error) bool  { return KindOf(err) == KindTransport }
func IsServer(err error) bool     { return KindOf(err) == KindServer }

// IsRetryable reports whether repeating the same request may succeed without
// any change from the worker.
func IsRetryable(err error) bool {
	return IsTransport(err)
}
