package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the schema this package expects. Products are seeded by
// the catalog side, which is outside this service.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			available INT NOT NULL CHECK (available >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL,
			total_cents BIGINT NOT NULL,
			state TEXT NOT NULL DEFAULT 'held',
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);

		-- One active hold per attempt. Released and committed rows stay behind
		-- as history, so the same attempt can reserve again after a sweep.
		CREATE UNIQUE INDEX IF NOT EXISTS reservations_attempt_held
			ON reservations (attempt_id) WHERE state = 'held';

		CREATE TABLE IF NOT EXISTS reservation_lines (
			reservation_id TEXT NOT NULL REFERENCES reservations(id),
			product_id TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			PRIMARY KEY (reservation_id, product_id)
		);

		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			attempt_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			gateway_reference TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS order_lines (
			order_id TEXT NOT NULL REFERENCES orders(id),
			product_id TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			PRIMARY KEY (order_id, product_id)
		);
	`)
	return err
}
