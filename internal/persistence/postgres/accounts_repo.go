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

// accountsRepo implements persistence.AccountStore for PostgreSQL
type accountsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAccountsRepo creates a PostgreSQL account repository
func NewAccountsRepo(db *sqlx.DB, timeout time.Duration) persistence.AccountStore {
	return &accountsRepo{db: db, timeout: timeout}
}

// Get returns the account record
func (r *accountsRepo) Get(ctx context.Context, id string) (*persistence.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, tier, claimed_total, created_at
		FROM accounts
		WHERE id = $1`

	var acct persistence.Account
	err := r.db.GetContext(ctx, &acct, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &acct, nil
}
