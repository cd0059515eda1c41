package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/veritaslabs/yieldengine/internal/persistence"
)

// claimsRepo implements persistence.ClaimStore for PostgreSQL
type claimsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewClaimsRepo creates a PostgreSQL claim record repository
func NewClaimsRepo(db *sqlx.DB, timeout time.Duration) persistence.ClaimStore {
	return &claimsRepo{db: db, timeout: timeout}
}

// Get returns the claim record for an account and period
func (r *claimsRepo) Get(ctx context.Context, accountID, periodID string) (*persistence.ClaimRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, account_id, period_id, amount, claimed_at
		FROM claim_records
		WHERE account_id = $1 AND period_id = $2`

	var rec persistence.ClaimRecord
	err := r.db.GetContext(ctx, &rec, query, accountID, periodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get claim record: %w", err)
	}

	return &rec, nil
}

// Create writes the claim record and credits the account's claimed total in
// one transaction. The unique index on (account_id, period_id) turns a
// concurrent duplicate into ErrDuplicateClaim instead of a double payout.
func (r *claimsRepo) Create(ctx context.Context, rec persistence.ClaimRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO claim_records (id, account_id, period_id, amount, claimed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.AccountID, rec.PeriodID, rec.Amount, rec.ClaimedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.ErrDuplicateClaim
		}
		return fmt.Errorf("failed to insert claim record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET claimed_total = claimed_total + $1 WHERE id = $2`,
		rec.Amount, rec.AccountID)
	if err != nil {
		return fmt.Errorf("failed to credit claimed total: %w", err)
	}

	return tx.Commit()
}

// ListByAccount returns recent claims for an account, newest first
func (r *claimsRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]persistence.ClaimRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// limit <= 0 means no cap; NULL disables the LIMIT clause
	query := `
		SELECT id, account_id, period_id, amount, claimed_at
		FROM claim_records
		WHERE account_id = $1
		ORDER BY claimed_at DESC
		LIMIT NULLIF($2, 0)`

	if limit < 0 {
		limit = 0
	}

	var recs []persistence.ClaimRecord
	if err := r.db.SelectContext(ctx, &recs, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list claim records: %w", err)
	}

	return recs, nil
}
