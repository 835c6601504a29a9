package repositoryimpl

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/fieldguild/internal/session"
	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/storage"
)

const (
	tokenPath    = "session/token"
	identityPath = "session/identity.yaml"
)

type identityDocument struct {
	Identity    session.Identity `yaml:"identity"`
	DeviceToken string           `yaml:"device_token,omitempty"`
}

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func (r *YAMLRepository) Load(ctx context.Context) (*session.Session, error) {
	raw, err := r.storage.Read(ctx, tokenPath)
	if err != nil {
		return nil, cerr.WrapStorageReadError("session token", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return nil, cerr.WrapCorruptError("session token", nil)
	}

	data, err := r.storage.Read(ctx, identityPath)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, cerr.NewError(cerr.DataLoss, "session identity is missing", err)
		}
		return nil, cerr.WrapStorageReadError("session identity", err)
	}
	var doc identityDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, cerr.WrapCorruptError("session identity", err)
	}
	return &session.Session{
		Identity:    doc.Identity,
		Token:       token,
		DeviceToken: doc.DeviceToken,
	}, nil
}

// Save writes the identity first so a token is never persisted without the
// identity it belongs to.
func (r *YAMLRepository) Save(ctx context.Context, s *session.Session) error {
	data, err := yaml.Marshal(&identityDocument{Identity: s.Identity, DeviceToken: s.DeviceToken})
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to encode session", fmt.Errorf("failed to marshal identity: %w", err))
	}
	if err := r.storage.Write(ctx, identityPath, data); err != nil {
		return cerr.WrapStorageWriteError("session identity", err)
	}
	if err := r.storage.Write(ctx, tokenPath, []byte(s.Token)); err != nil {
		return cerr.WrapStorageWriteError("session token", err)
	}
	return nil
}

// Delete removes the token first; without it nothing can be restored.
func (r *YAMLRepository) Delete(ctx context.Context) error {
	for _, p := range []string{tokenPath, identityPath} {
		if err := r.storage.Delete(ctx, p); err != nil && !storage.IsNotFound(err) {
			return cerr.WrapStorageDeleteError("session", err)
		}
	}
	return nil
}
