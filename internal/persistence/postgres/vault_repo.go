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

// vaultRepo implements persistence.VaultStore for PostgreSQL. The vault_state
// table holds exactly one row.
type vaultRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewVaultRepo creates a PostgreSQL vault state repository
func NewVaultRepo(db *sqlx.DB, timeout time.Duration) persistence.VaultStore {
	return &vaultRepo{db: db, timeout: timeout}
}

// Load returns the saved snapshot
func (r *vaultRepo) Load(ctx context.Context) (*persistence.VaultSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT total_principal, total_value, total_shares, share_price, accrued_fees, last_compound_at
		FROM vault_state
		WHERE id = TRUE`

	var snap persistence.VaultSnapshot
	err := r.db.GetContext(ctx, &snap, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load vault state: %w", err)
	}

	return &snap, nil
}

// Save replaces the snapshot
func (r *vaultRepo) Save(ctx context.Context, snap persistence.VaultSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO vault_state (id, total_principal, total_value, total_shares, share_price, accrued_fees, last_compound_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			total_principal = EXCLUDED.total_principal,
			total_value = EXCLUDED.total_value,
			total_shares = EXCLUDED.total_shares,
			share_price = EXCLUDED.share_price,
			accrued_fees = EXCLUDED.accrued_fees,
			last_compound_at = EXCLUDED.last_compound_at`

	_, err := r.db.ExecContext(ctx, query,
		snap.TotalPrincipal, snap.TotalValue, snap.TotalShares,
		snap.SharePrice, snap.AccruedFees, snap.LastCompoundAt)
	if err != nil {
		return fmt.Errorf("failed to save vault state: %w", err)
	}

	return nil
}
