package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the pgx pool shared by the device, alert and settings queries.
type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// Ping reports store reachability for the readiness endpoint.
func (d *DB) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// Migrate creates the engine's tables when they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id           TEXT PRIMARY KEY,
			name                TEXT NOT NULL DEFAULT 'Unknown',
			type                TEXT NOT NULL DEFAULT 'Unknown',
			mac_address         TEXT NOT NULL DEFAULT '',
			ip_address          TEXT NOT NULL DEFAULT '',
			firmware_version    TEXT NOT NULL DEFAULT '',
			registration_status TEXT NOT NULL DEFAULT 'pending',
			connectivity_status TEXT NOT NULL DEFAULT 'offline',
			last_seen           TIMESTAMPTZ,
			offline_since       TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id              UUID PRIMARY KEY,
			device_id       TEXT NOT NULL,
			parameter       TEXT NOT NULL,
			severity        TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'active',
			current_value   DOUBLE PRECISION NOT NULL,
			threshold_value DOUBLE PRECISION NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS alerts_one_active
			ON alerts (device_id, parameter) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
