package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/veritaslabs/yieldengine/internal/domain"
)

// ErrDuplicateClaim is returned by ClaimStore.Create when a record for the
// same (account, period) pair already exists. Callers treat it as the
// idempotent already-claimed case, never as a failure.
var ErrDuplicateClaim = errors.New("claim already recorded for account and period")

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Account represents a reward-earning user or wallet. Tier is owned by the
// external membership process; this engine only reads it.
type Account struct {
	ID           string      `json:"id" db:"id"`
	Tier         domain.Tier `json:"tier" db:"tier"`
	ClaimedTotal float64     `json:"claimed_total" db:"claimed_total"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// StakePosition represents principal staked by an account into the vault
type StakePosition struct {
	AccountID   string    `json:"account_id" db:"account_id"`
	Principal   float64   `json:"principal" db:"principal"`
	Shares      float64   `json:"shares" db:"shares"`
	DepositedAt time.Time `json:"deposited_at" db:"deposited_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ClaimRecord is the idempotency record written atomically with the balance
// debit. Once written, the (account, period) pair can never be claimed again.
type ClaimRecord struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	PeriodID  string    `json:"period_id" db:"period_id"`
	Amount    float64   `json:"amount" db:"amount"`
	ClaimedAt time.Time `json:"claimed_at" db:"claimed_at"`
}

// VaultSnapshot is the durable form of vault-wide share accounting state
type VaultSnapshot struct {
	TotalPrincipal float64   `json:"total_principal" db:"total_principal"`
	TotalValue     float64   `json:"total_value" db:"total_value"`
	TotalShares    float64   `json:"total_shares" db:"total_shares"`
	SharePrice     float64   `json:"share_price" db:"share_price"`
	AccruedFees    float64   `json:"accrued_fees" db:"accrued_fees"`
	LastCompoundAt time.Time `json:"last_compound_at" db:"last_compound_at"`
}

// CapsuleStore provides read access to capsules owned by the external content
// service
type CapsuleStore interface {
	// ListByCreator returns all capsules published by an account
	ListByCreator(ctx context.Context, accountID string) ([]domain.Capsule, error)
}

// AccountStore provides read access to account records
type AccountStore interface {
	// Get returns the account or ErrNotFound
	Get(ctx context.Context, id string) (*Account, error)
}

// ClaimStore persists claim records with at-most-once semantics per
// (account, period) pair
type ClaimStore interface {
	// Get returns the claim record for an account and period, or ErrNotFound
	Get(ctx context.Context, accountID, periodID string) (*ClaimRecord, error)

	// Create writes the claim record and credits the account's claimed total
	// in one atomic step. Returns ErrDuplicateClaim if the pair is already
	// claimed.
	Create(ctx context.Context, rec ClaimRecord) error

	// ListByAccount returns recent claims for an account, newest first
	ListByAccount(ctx context.Context, accountID string, limit int) ([]ClaimRecord, error)
}

// StakeStore persists per-account vault stake positions
type StakeStore interface {
	// Get returns the position for an account, or ErrNotFound
	Get(ctx context.Context, accountID string) (*StakePosition, error)

	// Upsert creates or replaces the position for pos.AccountID
	Upsert(ctx context.Context, pos StakePosition) error

	// Delete removes a fully withdrawn position
	Delete(ctx context.Context, accountID string) error
}

// VaultStore persists vault-wide accounting state across restarts
type VaultStore interface {
	// Load returns the saved snapshot, or ErrNotFound before first save
	Load(ctx context.Context) (*VaultSnapshot, error)

	// Save replaces the snapshot
	Save(ctx context.Context, snap VaultSnapshot) error
}
