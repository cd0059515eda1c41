package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the DDL for the engine's durable state. The unique index on
// (account_id, period_id) is what makes claim idempotency hold across
// concurrent writers.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	tier          INTEGER NOT NULL DEFAULT 0,
	claimed_total DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS capsules (
	id             TEXT PRIMARY KEY,
	creator_id     TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	views          BIGINT NOT NULL DEFAULT 0,
	shares         BIGINT NOT NULL DEFAULT 0,
	verifications  BIGINT NOT NULL DEFAULT 0,
	minted         BOOLEAN NOT NULL DEFAULT FALSE,
	veritas_sealed BOOLEAN NOT NULL DEFAULT FALSE,
	quality_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	category       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS capsules_creator ON capsules (creator_id);

CREATE TABLE IF NOT EXISTS claim_records (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	period_id  TEXT NOT NULL,
	amount     DOUBLE PRECISION NOT NULL,
	claimed_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS claim_records_account_period
	ON claim_records (account_id, period_id);

CREATE TABLE IF NOT EXISTS stake_positions (
	account_id   TEXT PRIMARY KEY,
	principal    DOUBLE PRECISION NOT NULL,
	shares       DOUBLE PRECISION NOT NULL,
	deposited_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_state (
	id               BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	total_principal  DOUBLE PRECISION NOT NULL,
	total_value      DOUBLE PRECISION NOT NULL,
	total_shares     DOUBLE PRECISION NOT NULL,
	share_price      DOUBLE PRECISION NOT NULL,
	accrued_fees     DOUBLE PRECISION NOT NULL,
	last_compound_at TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the schema to the connected database
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
