// Package app assembles the revision engine, its store backend and the reference
// record stores from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rpattn/revisionable/internal/auth"
	"github.com/rpattn/revisionable/internal/config"
	"github.com/rpattn/revisionable/internal/db"
	"github.com/rpattn/revisionable/internal/events"
	"github.com/rpattn/revisionable/internal/metrics"
	"github.com/rpattn/revisionable/internal/repository"
	"github.com/rpattn/revisionable/internal/revision"
)

// App is a fully wired revisioning deployment.
type App struct {
	Engine    *revision.Engine
	Revisions repository.RevisionRepository
	Records   map[string]repository.RecordRepository
	Metrics   *metrics.Recorder

	logger  *slog.Logger
	closers []func()
}

// Settings selects the backend and engine behaviour.
type Settings struct {
	Backend string
	Strict  bool
}

// New opens the configured backend, runs its migrations and registers every
// configured record type.
func New(ctx context.Context, settings Settings, opts config.Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	users, err := auth.NewUserResolver(opts.UserProvider, opts.UserField)
	if err != nil {
		return nil, err
	}

	a := &App{
		Records: map[string]repository.RecordRepository{},
		Metrics: metrics.NewRecorder(),
		logger:  logger,
	}
	bus := events.NewBus()

	var sharedRecords repository.RecordRepository
	switch settings.Backend {
	case config.BackendMemory, "":
		a.Revisions = repository.NewMemoryRevisionRepository()
	case config.BackendSQLite:
		sqlDB, err := openSQLite(ctx, opts)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		a.Revisions = repository.NewSQLiteRevisionRepository(sqlDB, opts.Table)
	case config.BackendPostgres:
		conn, err := db.NewConnection(ctx, opts.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.RunMigrations(ctx, conn.Pool, opts.Table); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Revisions = repository.NewRevisionRepository(conn.Pool, opts.Table)
		sharedRecords = repository.NewRecordRepository(conn.Pool, bus)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", settings.Backend)
	}

	a.Engine = revision.NewEngine(a.Revisions, bus, revision.Options{
		Defaults: opts.Defaults(),
		Users:    users,
		Logger:   logger,
		Metrics:  a.Metrics,
		Strict:   settings.Strict,
	})

	names := make([]string, 0, len(opts.Types))
	for name := range opts.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		typeOpts := opts.Types[name]
		store := sharedRecords
		if store == nil {
			store = repository.NewMemoryRecordRepository(typeOpts.Table, bus)
		}
		if err := a.Engine.Register(revision.Registration{
			Type:   name,
			Table:  typeOpts.Table,
			Store:  store,
			Config: typeOpts.Config,
		}); err != nil {
			a.Close()
			return nil, err
		}
		a.Records[name] = store
	}

	logger.Info("revision engine ready",
		"backend", settings.Backend,
		"table", opts.Table,
		"types", names,
	)
	return a, nil
}

// Reload applies new global defaults without re-registering types.
func (a *App) Reload(opts config.Options) {
	a.Engine.Registry.SetDefaults(opts.Defaults())
	a.logger.Info("revision defaults updated",
		"limit", opts.Revisions.Limit,
		"limit_cleanup", opts.Revisions.LimitCleanup,
		"rollback_cleanup", opts.Rollback.Cleanup,
		"rollback_log", opts.Rollback.Log,
	)
}

// Migrate applies the schema for the configured backend without building an App.
func Migrate(ctx context.Context, backend string, opts config.Options) error {
	switch backend {
	case config.BackendSQLite:
		sqlDB, err := openSQLite(ctx, opts)
		if err != nil {
			return err
		}
		return sqlDB.Close()
	case config.BackendPostgres:
		conn, err := db.NewConnection(ctx, opts.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer conn.Close()
		return db.RunMigrations(ctx, conn.Pool, opts.Table)
	case config.BackendMemory, "":
		return nil
	default:
		return fmt.Errorf("unsupported store backend %q", backend)
	}
}

// Close releases backend resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openSQLite(ctx context.Context, opts config.Options) (*sql.DB, error) {
	sqlDB, err := db.OpenSQLite(opts.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := db.ApplySQLiteMigrations(ctx, sqlDB, opts.Table); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}
