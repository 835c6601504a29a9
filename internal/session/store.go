package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

// Store owns the single session of this process. Persistence problems are
// logged and never returned: the worker keeps an in-memory session when a
// write fails, and is treated as signed out when a read fails.
type Store struct {
	repo Repository

	mu      sync.RWMutex
	current *Session
	cleared bool
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Restore returns the session of this process, loading the persisted one
// the first time. A session established in this run is never replaced by
// what is on disk.
func (s *Store) Restore(ctx context.Context) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleared {
		return nil, false
	}
	if s.current != nil {
		return s.current.Clone(), true
	}
	loaded, err := s.repo.Load(ctx)
	if err != nil {
		switch {
		case cerr.IsCode(err, cerr.NotFound):
			slog.DebugContext(ctx, "no persisted session")
		case cerr.IsCode(err, cerr.DataLoss):
			slog.WarnContext(ctx, "discarding corrupt session", "error", err)
		default:
			slog.ErrorContext(ctx, "failed to load session", "error", err)
		}
		return nil, false
	}
	s.current = loaded
	return loaded.Clone(), true
}

// Establish replaces any prior session with a new one and persists it.
func (s *Store) Establish(ctx context.Context, identity Identity, token, deviceToken string) *Session {
	sess := &Session{Identity: identity, Token: token, DeviceToken: deviceToken}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = sess
	s.cleared = false
	if err := s.repo.Save(ctx, sess); err != nil {
		slog.ErrorContext(ctx, "failed to persist session, keeping it in memory", "error", err)
	}
	return sess.Clone()
}

// Clear signs the worker out. Restore reports no session afterwards even
// when the persisted state could not be removed.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	s.cleared = true
	if err := s.repo.Delete(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to remove persisted session", "error", err)
	}
}

func (s *Store) Current() (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, false
	}
	return s.current.Clone(), true
}

func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.Token == "" {
		return "", false
	}
	return s.current.Token, true
}
