// Package claim serializes reward claims so each (account, period) pair pays
// out at most once. Double submits are expected from the dashboard's retry
// behavior and resolve idempotently rather than erroring.
package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/veritaslabs/yieldengine/internal/domain"
	"github.com/veritaslabs/yieldengine/internal/persistence"
)

// ErrBusy is returned when the account's lock cannot be acquired within the
// configured timeout. Retryable.
var ErrBusy = errors.New("account busy, retry claim")

// ErrAmountMismatch is returned when the caller-supplied amount exceeds the
// freshly computed entitlement. Defends against stale client balances.
var ErrAmountMismatch = errors.New("claim amount exceeds current entitlement")

// Status reports how a claim resolved
type Status int

const (
	// StatusClaimed means a new claim record was written
	StatusClaimed Status = iota
	// StatusAlreadyClaimed means the period was claimed before; the original
	// record is returned and no balance moved. Success-equivalent.
	StatusAlreadyClaimed
)

// String returns the status name
func (s Status) String() string {
	if s == StatusAlreadyClaimed {
		return "already_claimed"
	}
	return "claimed"
}

// SettlementIntent is the instruction handed to the external minting/transfer
// collaborator after a successful claim. Settlement failures are reconciled by
// the caller; this engine does not retry them.
type SettlementIntent struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	PeriodID  string    `json:"period_id"`
	Amount    float64   `json:"amount"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Result represents the outcome of a claim call
type Result struct {
	Status Status                  `json:"status"`
	Record persistence.ClaimRecord `json:"record"`
	Intent *SettlementIntent       `json:"intent,omitempty"`
}

// EntitlementFunc computes an account's current claimable summary. The
// coordinator calls it after taking the account lock so the amount check and
// the record write see the same state.
type EntitlementFunc func(ctx context.Context, accountID string) (domain.Summary, error)

// Options configures a Coordinator
type Options struct {
	Store       persistence.ClaimStore
	Entitlement EntitlementFunc
	LockTimeout time.Duration
	// Tolerance bounds how far above the computed entitlement a requested
	// amount may sit before it is rejected as stale
	Tolerance float64
	Token     string
	Clock     clockwork.Clock
}

// Coordinator gates claim execution
type Coordinator struct {
	store       persistence.ClaimStore
	entitlement EntitlementFunc
	locks       *accountLocks
	lockTimeout time.Duration
	tolerance   float64
	token       string
	clock       clockwork.Clock
}

// NewCoordinator creates a claim coordinator
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("claim store is required")
	}
	if opts.Entitlement == nil {
		return nil, fmt.Errorf("entitlement function is required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.Token == "" {
		opts.Token = "VRT"
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Coordinator{
		store:       opts.Store,
		entitlement: opts.Entitlement,
		locks:       newAccountLocks(),
		lockTimeout: opts.LockTimeout,
		tolerance:   opts.Tolerance,
		token:       opts.Token,
		clock:       opts.Clock,
	}, nil
}

// Claim executes a reward claim for an account and accrual period.
//
// Exactly one of three shapes comes back for valid input: a fresh claim with a
// settlement intent, an idempotent StatusAlreadyClaimed carrying the original
// record, or a typed error (ErrBusy, ErrAmountMismatch, ValidationError).
// Nothing commits on any validation failure.
func (c *Coordinator) Claim(ctx context.Context, accountID, periodID string, amount float64) (*Result, error) {
	if accountID == "" {
		return nil, domain.NewValidationError("account_id", "must not be empty")
	}
	if periodID == "" {
		return nil, domain.NewValidationError("period_id", "must not be empty")
	}
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", fmt.Sprintf("must be positive, got %f", amount))
	}

	release, err := c.locks.acquire(ctx, accountID, c.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	// replayed submit: return the original claim untouched
	if existing, err := c.store.Get(ctx, accountID, periodID); err == nil {
		log.Debug().
			Str("account", accountID).
			Str("period", periodID).
			Msg("claim replayed, returning original record")
		return &Result{Status: StatusAlreadyClaimed, Record: *existing}, nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing claim: %w", err)
	}

	summary, err := c.entitlement(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entitlement: %w", err)
	}
	if amount > summary.Amount+c.tolerance {
		log.Warn().
			Str("account", accountID).
			Str("period", periodID).
			Float64("requested", amount).
			Float64("entitled", summary.Amount).
			Msg("claim amount mismatch")
		return nil, ErrAmountMismatch
	}

	now := c.clock.Now()
	rec := persistence.ClaimRecord{
		ID:        uuid.NewString(),
		AccountID: accountID,
		PeriodID:  periodID,
		Amount:    amount,
		ClaimedAt: now,
	}

	if err := c.store.Create(ctx, rec); err != nil {
		if errors.Is(err, persistence.ErrDuplicateClaim) {
			// lost a race against another writer holding a different lock
			// instance (e.g. another process); resolve idempotently
			existing, getErr := c.store.Get(ctx, accountID, periodID)
			if getErr != nil {
				return nil, fmt.Errorf("duplicate claim but original unreadable: %w", getErr)
			}
			return &Result{Status: StatusAlreadyClaimed, Record: *existing}, nil
		}
		return nil, fmt.Errorf("failed to record claim: %w", err)
	}

	log.Info().
		Str("account", accountID).
		Str("period", periodID).
		Float64("amount", amount).
		Msg("claim recorded")

	return &Result{
		Status: StatusClaimed,
		Record: rec,
		Intent: &SettlementIntent{
			ID:        uuid.NewString(),
			AccountID: accountID,
			PeriodID:  periodID,
			Amount:    amount,
			Token:     c.token,
			CreatedAt: now,
		},
	}, nil
}

// History returns recent claims for an account, newest first
func (c *Coordinator) History(ctx context.Context, accountID string, limit int) ([]persistence.ClaimRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.store.ListByAccount(ctx, accountID, limit)
}
