// Package app wires configuration, persistence and the remote clients
// shared by the site server and the command line tool.
package app

import (
	"context"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/activitymap"
	"github.com/goliatone/go-session/config"
	"github.com/goliatone/go-session/gotrue"
	"github.com/goliatone/go-session/repository"
	"github.com/goliatone/go-session/storage"
	"github.com/uptrace/bun"
)

// App holds the process wide dependencies.
type App struct {
	config   *config.Config
	logger   *glog.BaseLogger
	db       *bun.DB
	kv       *repository.KeyValueStore
	drafts   *repository.DraftRepository
	verifier gotrue.TokenVerifier
	client   *http.Client
	closers  []func()
}

// NewLogger builds the pretty logger used by both binaries.
func NewLogger(level string) *glog.BaseLogger {
	lvl := glog.Info
	switch level {
	case "trace":
		lvl = glog.Trace
	case "debug":
		lvl = glog.Debug
	case "warn":
		lvl = glog.Warn
	case "error":
		lvl = glog.Error
	}

	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(lvl),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

// New opens the database, applies migrations and prepares the token
// verifier named by the configuration.
func New(ctx context.Context, cfg *config.Config, logger *glog.BaseLogger) (*App, error) {
	a := &App{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}

	db, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })

	if err := repository.Migrate(ctx, db); err != nil {
		a.Close()
		return nil, err
	}

	a.kv = repository.NewKeyValueStore(db)
	a.drafts = repository.NewDraftRepository(db)

	switch {
	case cfg.JWKSURL != "":
		verifier, err := gotrue.NewJWKSVerifier(ctx, cfg.JWKSURL, a.client, a.GetLogger("jwks"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.verifier = verifier
		a.closers = append(a.closers, verifier.Close)
	case cfg.JWTSecret != "":
		a.verifier = gotrue.NewHMACVerifier([]byte(cfg.JWTSecret))
	}

	return a, nil
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Session is the client side stack serving one user agent.
type Session struct {
	Identity *gotrue.Client
	Storage  *storage.Client
	Manager  *session.Manager
	Avatars  *session.AvatarHandler
}

// Close stops the manager and the identity client's refresh timer.
func (s *Session) Close() {
	s.Manager.Close()
	s.Identity.Close()
}

// NewSession builds the identity client, storage client, manager and avatar
// handler for the agent identified by key. The remote session is persisted
// in the database under a key derived from it. opts shape the activity
// records logged for the session.
func (a *App) NewSession(key string, sink session.ActivitySink, autoRefresh bool, opts ...activitymap.Option) (*Session, error) {
	identity, err := gotrue.New(gotrue.Config{
		URL:                a.config.SupabaseURL,
		APIKey:             a.config.SupabaseAnonKey,
		HTTPClient:         a.client,
		Storage:            a.kv,
		StorageKey:         "sb-" + key + "-auth-token",
		DisableAutoRefresh: !autoRefresh,
		Verifier:           a.verifier,
		Logger:             a.GetLogger("gotrue"),
	})
	if err != nil {
		return nil, err
	}

	objects, err := storage.New(storage.Config{
		URL:         a.config.SupabaseURL,
		APIKey:      a.config.SupabaseAnonKey,
		HTTPClient:  a.client,
		TokenSource: identity.AccessToken,
	})
	if err != nil {
		identity.Close()
		return nil, err
	}

	manager := session.NewManager(identity, session.Config{
		RedirectURL:      a.config.AuthRedirectURL,
		PasswordResetURL: a.config.PasswordResetURL,
		AvatarBucket:     a.config.AvatarBucket,
	}).
		WithLogger(a.GetLogger("session")).
		WithDraftStore(a.drafts).
		WithActivitySink(a.ActivityLog(sink, opts...))

	avatars := session.NewAvatarHandler(manager, objects).
		WithLogger(a.GetLogger("avatar"))

	return &Session{
		Identity: identity,
		Storage:  objects,
		Manager:  manager,
		Avatars:  avatars,
	}, nil
}

// ActivityLog logs every normalized activity event before passing it to
// next, which may be nil.
func (a *App) ActivityLog(next session.ActivitySink, opts ...activitymap.Option) session.ActivitySink {
	logger := a.GetLogger("activity")
	return session.ActivitySinkFunc(func(ctx context.Context, event session.ActivityEvent) error {
		record := activitymap.Normalize(event, opts...)
		logger.Info("activity",
			"verb", record.Verb,
			"channel", record.Channel,
			"actor", record.ActorID,
			"object", record.ObjectType,
			"outcome", record.Metadata[activitymap.MetadataKeyOutcome],
		)
		if next == nil {
			return nil
		}
		return next.Record(ctx, event)
	})
}
