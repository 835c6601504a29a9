package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/kazz187/fieldguild/internal/api"
	"github.com/kazz187/fieldguild/internal/auth"
	"github.com/kazz187/fieldguild/internal/config"
	"github.com/kazz187/fieldguild/internal/eventbus"
	"github.com/kazz187/fieldguild/internal/evidence"
	"github.com/kazz187/fieldguild/internal/location"
	"github.com/kazz187/fieldguild/internal/notification"
	"github.com/kazz187/fieldguild/internal/preference"
	preferencerepo "github.com/kazz187/fieldguild/internal/preference/repositoryimpl"
	"github.com/kazz187/fieldguild/internal/session"
	sessionrepo "github.com/kazz187/fieldguild/internal/session/repositoryimpl"
	"github.com/kazz187/fieldguild/internal/task"
	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/clog"
	"github.com/kazz187/fieldguild/pkg/storage"
)

// fieldApp holds everything a command needs, wired from the environment.
type fieldApp struct {
	env        *config.Env
	store      storage.Storage
	sessions   *session.Store
	client     *api.Client
	auth       *auth.Service
	prefs      *preference.Service
	archive    *evidence.Archive
	messenger  notification.Messenger
	inbox      *notification.Inbox
	bus        *eventbus.Bus
	journal    *eventbus.Journal
	controller *task.Controller
	closers    []func() error
}

func newApp(ctx context.Context) (*fieldApp, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	setupLogger(env)

	a := &fieldApp{env: env, bus: eventbus.New()}

	a.store, err = openStorage(ctx, env, a)
	if err != nil {
		return nil, err
	}

	a.journal = eventbus.NewJournal(a.store)
	a.sessions = session.NewStore(sessionrepo.NewYAMLRepository(a.store))
	a.client = api.NewClient(env.APIBaseURL, a.sessions, api.WithTimeout(env.HTTPTimeout))
	a.prefs = preference.NewService(preferencerepo.NewYAMLRepository(a.store), env.Language)

	a.messenger = notification.Noop{}
	if env.InboxDir != "" {
		a.inbox, err = notification.NewInbox(env.InboxDir, env.DeviceToken)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.messenger = a.inbox
	}
	a.auth = auth.NewService(a.client, a.sessions, a.messenger)

	var locator location.Provider = location.Unavailable{}
	if env.HasFix() {
		locator = location.NewStatic(*env.Latitude, *env.Longitude, env.Address)
	}
	opts := []task.Option{
		task.WithLocator(locator),
		task.WithSessionClearer(a.sessions),
		task.WithEventBus(a.bus),
	}
	if env.Archive {
		a.archive = evidence.NewArchive(a.store)
		opts = append(opts, task.WithArchive(a.archive))
	}
	a.controller = task.NewController(a.client, opts...)
	return a, nil
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level), clog.WithColor(!color.NoColor))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func openStorage(ctx context.Context, env *config.Env, a *fieldApp) (storage.Storage, error) {
	switch env.StorageEnv.Type {
	case "s3":
		if env.S3Bucket == "" {
			return nil, fmt.Errorf("FIELDGUILD_S3_BUCKET is required for s3 storage")
		}
		s, err := storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := storage.NewSQLiteStorage(env.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "local", "":
		s, err := storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", env.StorageEnv.Type)
	}
}

func (a *fieldApp) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close", "error", err)
		}
	}
}

// requireSession restores the persisted session for commands that talk to
// the worker API.
func (a *fieldApp) requireSession(ctx context.Context) (*session.Session, error) {
	sess, ok := a.auth.Restore(ctx)
	if !ok {
		return nil, cerr.NewError(cerr.Unauthenticated, "not signed in, run `fieldguild login` first", nil)
	}
	return sess, nil
}
