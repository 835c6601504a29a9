package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/fieldguild/internal/session"
	"github.com/kazz187/fieldguild/internal/session/repositoryimpl"
	"github.com/kazz187/fieldguild/pkg/storage"
)

var worker = session.Identity{ID: "w-1", Name: "Asha", Email: "worker@x.com", Role: "worker"}

func newLocal(t *testing.T, dir string) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return s
}

func TestStore_RestoreAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := session.NewStore(repositoryimpl.NewYAMLRepository(newLocal(t, dir)))
	_, ok := first.Restore(ctx)
	assert.False(t, ok)

	first.Establish(ctx, worker, "abc", "device-1")

	// a new store over the same directory stands in for a process restart
	second := session.NewStore(repositoryimpl.NewYAMLRepository(newLocal(t, dir)))
	got, ok := second.Restore(ctx)
	require.True(t, ok)
	assert.Equal(t, worker, got.Identity)
	assert.Equal(t, "abc", got.Token)
	assert.Equal(t, "device-1", got.DeviceToken)

	token, ok := second.Token()
	require.True(t, ok)
	assert.Equal(t, "abc", token)
}

func TestStore_ClearRightAfterEstablish(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := session.NewStore(repositoryimpl.NewYAMLRepository(newLocal(t, dir)))

	store.Establish(ctx, worker, "abc", "")
	store.Clear(ctx)

	_, ok := store.Restore(ctx)
	assert.False(t, ok)
	_, ok = store.Current()
	assert.False(t, ok)
	_, ok = store.Token()
	assert.False(t, ok)

	restarted := session.NewStore(repositoryimpl.NewYAMLRepository(newLocal(t, dir)))
	_, ok = restarted.Restore(ctx)
	assert.False(t, ok)
}

func TestStore_TokenFilePermissions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := session.NewStore(repositoryimpl.NewYAMLRepository(newLocal(t, dir)))
	store.Establish(ctx, worker, "abc", "")

	for _, name := range []string{"token", "identity.yaml"} {
		info, err := os.Stat(filepath.Join(dir, "session", name))
		require.NoError(t, err)
		assert.Equal(t, "-rw-------", info.Mode().String(), name)
	}
}

func TestStore_CorruptStateRestoresNothing(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		identity string
	}{
		{name: "blank token", token: "   \n", identity: "identity:\n  name: Asha\n  role: worker\n"},
		{name: "broken identity", token: "abc", identity: "identity: [\n"},
		{name: "missing identity", token: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newLocal(t, t.TempDir())
			require.NoError(t, s.Write(ctx, "session/token", []byte(tt.token)))
			if tt.identity != "" {
				require.NoError(t, s.Write(ctx, "session/identity.yaml", []byte(tt.identity)))
			}

			_, ok := session.NewStore(repositoryimpl.NewYAMLRepository(s)).Restore(ctx)
			assert.False(t, ok)
		})
	}
}

type failingRepo struct {
	saved *session.Session
}

func (r *failingRepo) Load(context.Context) (*session.Session, error) {
	if r.saved == nil {
		return nil, errors.New("disk unavailable")
	}
	return r.saved.Clone(), nil
}
func (r *failingRepo) Save(_ context.Context, s *session.Session) error {
	r.saved = s.Clone()
	return nil
}
func (r *failingRepo) Delete(context.Context) error { return errors.New("disk unavailable") }

func TestStore_FailedDeleteStillSignsOut(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{}
	store := session.NewStore(repo)

	store.Establish(ctx, worker, "abc", "")
	store.Clear(ctx)

	_, ok := store.Restore(ctx)
	assert.False(t, ok, "persisted session survived the failed delete but must not come back")

	store.Establish(ctx, worker, "def", "")
	got, ok := store.Restore(ctx)
	require.True(t, ok)
	assert.Equal(t, "def", got.Token)
}

type brokenRepo struct{}

func (brokenRepo) Load(context.Context) (*session.Session, error) {
	return nil, errors.New("disk unavailable")
}
func (brokenRepo) Save(context.Context, *session.Session) error { return errors.New("disk full") }
func (brokenRepo) Delete(context.Context) error                 { return nil }

func TestStore_FailedSaveKeepsSessionInMemory(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(brokenRepo{})

	got := store.Establish(ctx, worker, "abc", "")
	assert.Equal(t, "abc", got.Token)

	token, ok := store.Token()
	require.True(t, ok)
	assert.Equal(t, "abc", token)

	restored, ok := store.Restore(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", restored.Token)
}

// outdatedRepo still holds the session of an earlier sign-in and cannot
// store a new one.
type outdatedRepo struct{}

func (outdatedRepo) Load(context.Context) (*session.Session, error) {
	return &session.Session{Identity: session.Identity{ID: "w-0", Name: "Old"}, Token: "old-token"}, nil
}
func (outdatedRepo) Save(context.Context, *session.Session) error { return errors.New("disk full") }
func (outdatedRepo) Delete(context.Context) error                 { return nil }

func TestStore_FailedSaveIsNotOverriddenByOlderPersistedSession(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(outdatedRepo{})

	store.Establish(ctx, worker, "new-token", "")

	restored, ok := store.Restore(ctx)
	require.True(t, ok)
	assert.Equal(t, "new-token", restored.Token)
	assert.Equal(t, worker, restored.Identity)

	token, ok := store.Token()
	require.True(t, ok)
	assert.Equal(t, "new-token", token)
}

func TestFallbackIdentity(t *testing.T) {
	assert.Equal(t, session.Identity{Name: "Worker", Email: "worker@x.com", Role: "worker"},
		session.FallbackIdentity("worker@x.com"))
	assert.Equal(t, session.Identity{Name: "Worker", Phone: "9876543210", Role: "worker"},
		session.FallbackIdentity("9876543210"))
}
