package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kazz187/fieldguild/internal/api"
	"github.com/kazz187/fieldguild/internal/notification"
	"github.com/kazz187/fieldguild/internal/session"
	"github.com/kazz187/fieldguild/pkg/cerr"
)

type Gateway interface {
	Login(ctx context.Context, identifier, password, deviceToken string) (*api.LoginResult, error)
}

type Service struct {
	gateway   Gateway
	sessions  *session.Store
	messenger notification.Messenger
}

func NewService(gateway Gateway, sessions *session.Store, messenger notification.Messenger) *Service {
	if messenger == nil {
		messenger = notification.Noop{}
	}
	return &Service{gateway: gateway, sessions: sessions, messenger: messenger}
}

// Login signs the worker in and establishes the session. The device token
// is best effort: without one the worker simply gets no push messages.
func (s *Service) Login(ctx context.Context, identifier, password string) (*session.Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "email or phone and password are required", nil)
	}

	deviceToken, err := s.messenger.Token(ctx)
	if err != nil {
		slog.InfoContext(ctx, "signing in without a device token", "error", err)
		deviceToken = ""
	}

	res, err := s.gateway.Login(ctx, identifier, password, deviceToken)
	if err != nil {
		return nil, err
	}
	sess := s.sessions.Establish(ctx, res.Identity, res.Token, deviceToken)
	slog.InfoContext(ctx, "signed in", "name", sess.Identity.Name, "role", sess.Identity.Role)
	return sess, nil
}

func (s *Service) Logout(ctx context.Context) {
	s.sessions.Clear(ctx)
	slog.InfoContext(ctx, "signed out")
}

// Restore returns the persisted session, used at startup to decide between
// the sign-in flow and the task list.
func (s *Service) Restore(ctx context.Context) (*session.Session, bool) {
	return s.sessions.Restore(ctx)
}
