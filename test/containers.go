package test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/offroad-parts/checkout/internal/telemetry"
	"github.com/offroad-parts/checkout/migrations"
)

type PostgresSetup struct {
	ConnStr string
	Schema  string
	cleanup func()
}

func (p *PostgresSetup) Cleanup() {
	p.cleanup()
}

// DB opens a handle with search_path set to the migrated schema.
func (p *PostgresSetup) DB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := telemetry.OpenDB(p.ConnStr, p.Schema)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// SetupPostgres starts Postgres and applies the embedded migrations to the checkout schema.
func SetupPostgres(ctx context.Context, t *testing.T) *PostgresSetup {
	t.Helper()
	return SetupPostgresSchema(ctx, t, "checkout")
}

// SetupPostgresSchema starts Postgres and applies the embedded migrations to schema.
func SetupPostgresSchema(ctx context.Context, t *testing.T, schema string) *PostgresSetup {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("checkout"),
		postgres.WithUsername("checkout"),
		postgres.WithPassword("checkout"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := migrations.Up(connStr, schema); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &PostgresSetup{
		ConnStr: connStr,
		Schema:  schema,
		cleanup: func() {
			if err := container.Terminate(ctx); err != nil {
				t.Logf("failed to terminate postgres container: %v", err)
			}
		},
	}
}

type KafkaSetup struct {
	Brokers []string
	cleanup func()
}

func (k *KafkaSetup) Cleanup() {
	k.cleanup()
}

// SetupKafka starts a single-node broker. Topics are auto-created on first write.
func SetupKafka(ctx context.Context, t *testing.T) *KafkaSetup {
	t.Helper()

	container, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.8.0",
		kafka.WithClusterID("checkout-test"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	return &KafkaSetup{
		Brokers: brokers,
		cleanup: func() {
			if err := container.Terminate(ctx); err != nil {
				t.Logf("failed to terminate kafka container: %v", err)
			}
		},
	}
}
