package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/fieldguild/internal/api"
	"github.com/kazz187/fieldguild/internal/apitest"
	"github.com/kazz187/fieldguild/internal/auth"
	"github.com/kazz187/fieldguild/internal/notification"
	"github.com/kazz187/fieldguild/internal/session"
	"github.com/kazz187/fieldguild/internal/session/repositoryimpl"
	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/storage"
)

type fixedMessenger string

func (m fixedMessenger) Token(context.Context) (string, error) { return string(m), nil }
func (fixedMessenger) Subscribe(func(notification.Message)) func() {
	return func() {}
}

func setup(t *testing.T, dir string, messenger notification.Messenger) (*auth.Service, *session.Store, *apitest.Server) {
	t.Helper()
	s, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	store := session.NewStore(repositoryimpl.NewYAMLRepository(s))
	srv := apitest.New(t)
	srv.AddWorker(apitest.Worker{Identifier: "worker@x.com", Password: "pw123", Token: "abc"})
	return auth.NewService(api.NewClient(srv.URL, store), store, messenger), store, srv
}

func TestService_LoginEstablishesSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, store, srv := setup(t, dir, nil)

	sess, err := svc.Login(ctx, "worker@x.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, "abc", sess.Token)

	token, ok := store.Token()
	require.True(t, ok)
	assert.Equal(t, "abc", token)

	// without messaging no fcmToken is sent
	assert.NotContains(t, srv.Logins()[0], "fcmToken")

	// the session survives a restart
	restarted, _, _ := setup(t, dir, nil)
	restored, ok := restarted.Restore(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", restored.Token)
	assert.Equal(t, "worker@x.com", restored.Identity.Email)
}

func TestService_LoginSendsDeviceToken(t *testing.T) {
	svc, store, srv := setup(t, t.TempDir(), fixedMessenger("fcm-1"))

	_, err := svc.Login(context.Background(), "worker@x.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, "fcm-1", srv.Logins()[0]["fcmToken"])

	sess, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "fcm-1", sess.DeviceToken)
}

func TestService_LoginRequiresCredentials(t *testing.T) {
	svc, _, srv := setup(t, t.TempDir(), nil)

	for _, tc := range [][2]string{{"", "pw"}, {"  ", "pw"}, {"worker@x.com", ""}} {
		_, err := svc.Login(context.Background(), tc[0], tc[1])
		assert.True(t, cerr.IsValidation(err))
	}
	assert.Equal(t, 0, srv.Requests())
}

func TestService_LoginRejected(t *testing.T) {
	svc, store, _ := setup(t, t.TempDir(), nil)

	_, err := svc.Login(context.Background(), "worker@x.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", cerr.Message(err))
	_, ok := store.Current()
	assert.False(t, ok)
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, _, _ := setup(t, dir, nil)

	_, err := svc.Login(ctx, "worker@x.com", "pw123")
	require.NoError(t, err)
	svc.Logout(ctx)

	_, ok := svc.Restore(ctx)
	assert.False(t, ok)
	restarted, _, _ := setup(t, dir, nil)
	_, ok = restarted.Restore(ctx)
	assert.False(t, ok)
}
