// Package app wires configuration, logging and the mirror engine into the
// mirrorsync command line.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/mirrorsync"
	"github.com/agentstation/mirrorsync/internal/lock"
	"github.com/agentstation/mirrorsync/internal/notion"
	"github.com/agentstation/mirrorsync/pkg/logging"
	"github.com/agentstation/mirrorsync/pkg/store"
)

// App holds the CLI's configuration, logger and lazily built engine.
type App struct {
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	mu      sync.Mutex
	store   store.Store
	engine  *mirrorsync.Engine
	closers []func() error
}

// New creates an App with configuration loaded from the environment.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig("")
	if err != nil {
		return nil, err
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Engine returns the mirror engine, building it on first use. It fails
// with a ConfigurationError before any store call when required settings
// are missing.
func (a *App) Engine(ctx context.Context) (*mirrorsync.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return a.engine, nil
	}
	if err := a.config.Validate(); err != nil {
		return nil, err
	}

	if a.store == nil {
		a.store = notion.New(notion.Config{
			Token:      a.config.NotionToken,
			BaseURL:    a.config.NotionBaseURL,
			Version:    a.config.NotionVersion,
			RateLimit:  a.config.RateLimit,
			AuthHeader: a.config.AuthHeader,
		})
	}

	opts := []mirrorsync.Option{
		mirrorsync.WithMapping(a.config.Mapping()),
		mirrorsync.WithRegistryNameProperty(a.config.RegistryNameProperty),
		mirrorsync.WithMirrorTitle(a.config.MirrorTitle),
		mirrorsync.WithTag(a.config.TagProperty, a.config.SystemLabel, a.config.OwnerLabel),
		mirrorsync.WithPolicy(mirrorsync.Policy(a.config.Policy)),
		mirrorsync.WithTemplateCopy(a.config.CopyTemplate),
	}
	if a.config.RedisURL != "" {
		locker, closeFn, err := lock.Dial(ctx, a.config.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		opts = append(opts, mirrorsync.WithLocker(locker))
		a.logger.Debug().Msg("Using Redis owner locks")
	}

	engine, err := mirrorsync.New(a.store, mirrorsync.Tables{
		Master:   a.config.ProjectsDB,
		Registry: a.config.ManagersDB,
		Template: a.config.TemplatePageID,
	}, opts...)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return engine, nil
}

// Shutdown releases connections opened for the engine.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// withLogger returns ctx carrying the app logger.
func (a *App) withLogger(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, a.logger)
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithStore sets the record store used instead of the Notion API (useful
// for testing).
func WithStore(st store.Store) Option {
	return func(a *App) error {
		a.store = st
		return nil
	}
}
