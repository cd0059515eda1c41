package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/veritaslabs/yieldengine/internal/persistence"
)

// stakesRepo implements persistence.StakeStore for PostgreSQL
type stakesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStakesRepo creates a PostgreSQL stake position repository
func NewStakesRepo(db *sqlx.DB, timeout time.Duration) persistence.StakeStore {
	return &stakesRepo{db: db, timeout: timeout}
}

// Get returns the stake position for an account
func (r *stakesRepo) Get(ctx context.Context, accountID string) (*persistence.StakePosition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT account_id, principal, shares, deposited_at, updated_at
		FROM stake_positions
		WHERE account_id = $1`

	var pos persistence.StakePosition
	err := r.db.GetContext(ctx, &pos, query, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stake position: %w", err)
	}

	return &pos, nil
}

// Upsert creates or replaces the position for pos.AccountID
func (r *stakesRepo) Upsert(ctx context.Context, pos persistence.StakePosition) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO stake_positions (account_id, principal, shares, deposited_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			principal = EXCLUDED.principal,
			shares = EXCLUDED.shares,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		pos.AccountID, pos.Principal, pos.Shares, pos.DepositedAt, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert stake position: %w", err)
	}

	return nil
}

// Delete removes a fully withdrawn position
func (r *stakesRepo) Delete(ctx context.Context, accountID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM stake_positions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete stake position: %w", err)
	}

	return nil
}
