package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS client_quotas (
		client_id        TEXT PRIMARY KEY,
		tokens_remaining BIGINT NOT NULL DEFAULT 0 CHECK (tokens_remaining >= 0),
		tokens_used      BIGINT NOT NULL DEFAULT 0 CHECK (tokens_used >= 0),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS quote_requests (
		id          UUID PRIMARY KEY,
		client_id   TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		origin      JSONB NOT NULL,
		destination JSONB NOT NULL,
		ship_date   DATE NOT NULL,
		modes       TEXT[] NOT NULL,
		lines       JSONB NOT NULL,
		raw         JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS quote_requests_client_idx ON quote_requests (client_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS quote_rates (
		id               UUID PRIMARY KEY,
		quote_request_id UUID NOT NULL REFERENCES quote_requests (id) ON DELETE CASCADE,
		provider_rate_id TEXT NOT NULL,
		position         INT NOT NULL,
		mode             TEXT NOT NULL DEFAULT '',
		carrier_name     TEXT NOT NULL,
		service_name     TEXT NOT NULL,
		transit_days     INT,
		total_cost       NUMERIC(12, 2) NOT NULL CHECK (total_cost >= 0),
		currency         TEXT NOT NULL DEFAULT 'USD',
		raw              JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS quote_rates_quote_idx ON quote_rates (quote_request_id, position)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id                  UUID PRIMARY KEY,
		client_id           TEXT NOT NULL,
		quote_request_id    UUID REFERENCES quote_requests (id),
		quote_rate_id       UUID REFERENCES quote_rates (id),
		confirmation_number TEXT,
		status              TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'confirmed', 'cancelled')),
		rate                JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS bookings_confirmation_idx ON bookings (confirmation_number)`,
	`CREATE TABLE IF NOT EXISTS postal_codes (
		country     TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		city        TEXT NOT NULL,
		state       TEXT NOT NULL,
		PRIMARY KEY (country, postal_code)
	)`,
}

// EnsureSchema creates the service's tables when they are missing. It is
// idempotent and safe to run on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
