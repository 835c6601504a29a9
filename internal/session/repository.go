package session

import "context"

type Repository interface {
	// Load returns NotFound when nothing is persisted and DataLoss when the
	// persisted state cannot be decoded.
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context) error
}
