package notification

import (
	"context"
	"time"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

// Message is one notification pushed to this device.
type Message struct {
	Title      string
	Body       string
	Data       map[string]string
	ReceivedAt time.Time
}

// Messenger is the device's push messaging capability.
type Messenger interface {
	// Token returns the device token the backend should push to.
	Token(ctx context.Context) (string, error)
	// Subscribe registers fn for incoming messages until the returned func is called.
	Subscribe(fn func(Message)) (unsubscribe func())
}

// Noop is used when messaging is not available on this device.
type Noop struct{}

func (Noop) Token(context.Context) (string, error) {
	return "", cerr.NewError(cerr.Unavailable, "push messaging unavailable", nil)
}

func (Noop) Subscribe(func(Message)) func() {
	return func() {}
}
