// Package migrations embeds the SQL schema so binaries and tests carry it with them. The SQL is
// schema-agnostic; New points it at a schema through search_path.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/offroad-parts/checkout/internal/telemetry"
)

//go:embed *.sql
var files embed.FS

// New returns a migrator for the embedded migrations against databaseURL. A non-empty schema
// is created if missing and becomes the search_path, so the tables and the migration history
// both live in it. An empty schema uses the server's default search_path.
func New(databaseURL, schema string) (*migrate.Migrate, error) {
	if schema != "" {
		if err := createSchema(databaseURL, schema); err != nil {
			return nil, err
		}
	}
	dsn, err := telemetry.WithSearchPath(databaseURL, schema)
	if err != nil {
		return nil, fmt.Errorf("set search_path: %w", err)
	}

	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("init iofs source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func Up(databaseURL, schema string) error {
	m, err := New(databaseURL, schema)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func createSchema(databaseURL, schema string) error {
	db, err := telemetry.OpenDB(databaseURL, "")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}
