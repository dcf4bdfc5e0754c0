package postgres

import (
	"context"
	"database/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS route_requests (
		id BIGSERIAL PRIMARY KEY,
		owner_principal TEXT NOT NULL,
		item_count INTEGER NOT NULL,
		max_distance TEXT NOT NULL DEFAULT '',
		capacity_limit TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		stake BIGINT NOT NULL,
		fee BIGINT NOT NULL,
		multiplier BIGINT NOT NULL,
		refund_eligible BOOLEAN NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		processing_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS route_requests_owner_idx ON route_requests (owner_principal)`,
	`CREATE INDEX IF NOT EXISTS route_requests_status_idx ON route_requests (status)`,
	`CREATE TABLE IF NOT EXISTS route_items (
		request_id BIGINT NOT NULL REFERENCES route_requests (id),
		item_index INTEGER NOT NULL,
		x TEXT NOT NULL,
		y TEXT NOT NULL,
		weight TEXT NOT NULL,
		price TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		PRIMARY KEY (request_id, item_index)
	)`,
	`CREATE TABLE IF NOT EXISTS route_results (
		request_id BIGINT PRIMARY KEY REFERENCES route_requests (id),
		distance TEXT NOT NULL,
		cost TEXT NOT NULL,
		item_order JSONB NOT NULL DEFAULT '[]',
		finalized BOOLEAN NOT NULL,
		revealed_distance BIGINT NOT NULL DEFAULT 0,
		revealed_cost BIGINT NOT NULL DEFAULT 0,
		finalized_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS route_correlations (
		correlation_id TEXT PRIMARY KEY,
		request_id BIGINT NOT NULL REFERENCES route_requests (id)
	)`,
	`CREATE TABLE IF NOT EXISTS route_fee_pool (
		singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
		accumulated BIGINT NOT NULL DEFAULT 0,
		total_withdrawn BIGINT NOT NULL DEFAULT 0
	)`,
	`INSERT INTO route_fee_pool (singleton) VALUES (TRUE) ON CONFLICT DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS route_payouts (
		id UUID PRIMARY KEY,
		request_id BIGINT NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		recipient TEXT NOT NULL,
		amount BIGINT NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS route_roles (
		principal TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (principal, role)
	)`,
	`CREATE TABLE IF NOT EXISTS route_access_state (
		singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
		owner_principal TEXT NOT NULL DEFAULT '',
		paused BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`INSERT INTO route_access_state (singleton) VALUES (TRUE) ON CONFLICT DO NOTHING`,
}

// Bootstrap creates the tables if they do not exist. Safe to run on every
// startup.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
