package cerr

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/kazz187/fieldguild/pkg/clog"
)

type Error struct {
	Code   Code
	Msg    string // message safe to show to the worker
	Err    error  // underlying error, logged only
	Stack  string
	Status int // HTTP status received from the worker API, 0 for local errors
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if clog.HTTPStatusToLevel(code.HTTPCode()) == clog.LevelError {
		stackTrace := make([]byte, 2048)
		n := runtime.Stack(stackTrace, false)
		err.Stack = string(stackTrace[0:n])
	}
	return err
}

// NewServerError builds the error for a request the worker API rejected.
// msg is the server provided message and is kept verbatim.
func NewServerError(status int, msg string, underlying error) *Error {
	return &Error{
		Code:   CodeFromHTTPStatus(status),
		Msg:    msg,
		Err:    underlying,
		Status: status,
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsCode(err error, code Code) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}

// CodeOf returns OK for nil, the Code of an *Error, and Unknown otherwise.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return Unknown
}

// Message returns the text to surface to the worker for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Msg != "" {
		return cerr.Msg
	}
	return err.Error()
}
