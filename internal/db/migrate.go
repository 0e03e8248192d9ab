package db

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"testing/fstest"
	"text/template"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations
var migrationFiles embed.FS

// schemaNames carries the identifiers substituted into migration templates.
type schemaNames struct {
	Table        string
	ActionIndex  string
	UserIndex    string
	SubjectIndex string
}

func newSchemaNames(table string, quote func(string) string) schemaNames {
	return schemaNames{
		Table:        quote(table),
		ActionIndex:  quote(table + "_action_index"),
		UserIndex:    quote(table + "_user_id_index"),
		SubjectIndex: quote(table + "_revisionable_type_revisionable_id_index"),
	}
}

func quotePostgres(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// renderMigrations executes every migration template under dir against names and
// returns the result as an in-memory filesystem keyed by file name.
func renderMigrations(dir string, names schemaNames) (fstest.MapFS, error) {
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	rendered := fstest.MapFS{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		raw, err := fs.ReadFile(migrationFiles, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		tmpl, err := template.New(entry.Name()).Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse migration %s: %w", entry.Name(), err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, names); err != nil {
			return nil, fmt.Errorf("failed to render migration %s: %w", entry.Name(), err)
		}
		rendered[entry.Name()] = &fstest.MapFile{Data: buf.Bytes()}
	}
	return rendered, nil
}

// RunMigrations applies the Postgres migrations for the revisions table named table
// and the reference records table.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, table string) error {
	if table == "" {
		table = "revisions"
	}

	rendered, err := renderMigrations("migrations/postgres", newSchemaNames(table, quotePostgres))
	if err != nil {
		return err
	}

	source, err := iofs.New(rendered, ".")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{
		MigrationsTable: table + "_schema_migrations",
	})
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("revision schema up to date", "table", table)
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("applied revision migrations", "table", table, "version", version, "dirty", dirty)
	return nil
}
