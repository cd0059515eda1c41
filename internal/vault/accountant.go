// Package vault implements pooled-stake share accounting with periodic
// auto-compounding. One Accountant instance owns one vault's shared state;
// all share math happens under its mutex so deposits, withdrawals and
// compounds never observe a stale share price.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/veritaslabs/yieldengine/internal/domain"
	"github.com/veritaslabs/yieldengine/internal/persistence"
)

// ErrInsufficientShares is returned when a withdrawal exceeds the account's
// held shares
var ErrInsufficientShares = errors.New("insufficient shares")

// ErrCompoundInFlight is returned when a compound is requested while another
// is still running. At most one compound may be in flight per vault.
var ErrCompoundInFlight = errors.New("compound already in flight")

// State represents the vault's compounding state machine
type State int

const (
	StateIdle State = iota
	StateCompounding
)

// String returns the state name
func (s State) String() string {
	if s == StateCompounding {
		return "compounding"
	}
	return "idle"
}

// CompoundResult summarizes a completed compound transition
type CompoundResult struct {
	YieldApplied  float64   `json:"yield_applied"`
	FeeExtracted  float64   `json:"fee_extracted"`
	SharePrice    float64   `json:"share_price"`
	TotalValue    float64   `json:"total_value"`
	CompoundedAt  time.Time `json:"compounded_at"`
	ZeroShares    bool      `json:"-"` // true when totalShares == 0 and the compound was a no-op
}

// Accountant manages one vault's share accounting
type Accountant struct {
	mu          sync.Mutex
	compounding atomic.Bool

	totalPrincipal float64
	totalValue     float64
	totalShares    float64
	sharePrice     float64
	accruedFees    float64
	lastCompound   time.Time

	stakes persistence.StakeStore
	vaults persistence.VaultStore
	clock  clockwork.Clock
}

// Options configures an Accountant. Stakes is required; Vaults may be nil
// for ephemeral vaults and Clock defaults to the real clock.
type Options struct {
	Stakes persistence.StakeStore
	Vaults persistence.VaultStore
	Clock  clockwork.Clock
}

// NewAccountant creates a vault accountant. Share price bootstraps to 1.0 on
// the first deposit; a previously saved snapshot can be restored with Restore.
func NewAccountant(opts Options) (*Accountant, error) {
	if opts.Stakes == nil {
		return nil, fmt.Errorf("stake store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Accountant{
		sharePrice: 1.0,
		stakes:     opts.Stakes,
		vaults:     opts.Vaults,
		clock:      opts.Clock,
	}, nil
}

// Restore loads the saved vault snapshot, if any
func (a *Accountant) Restore(ctx context.Context) error {
	if a.vaults == nil {
		return nil
	}

	snap, err := a.vaults.Load(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to restore vault state: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalPrincipal = snap.TotalPrincipal
	a.totalValue = snap.TotalValue
	a.totalShares = snap.TotalShares
	a.sharePrice = snap.SharePrice
	a.accruedFees = snap.AccruedFees
	a.lastCompound = snap.LastCompoundAt
	if a.sharePrice <= 0 {
		a.sharePrice = 1.0
	}
	return nil
}

// Deposit stakes principal and issues shares at the current share price.
// Rejects non-positive amounts. With zero shares outstanding the share price
// bootstraps to 1.0 so the first depositor receives amount shares.
func (a *Accountant) Deposit(ctx context.Context, accountID string, amount float64) (float64, error) {
	if accountID == "" {
		return 0, domain.NewValidationError("account_id", "must not be empty")
	}
	if amount <= 0 {
		return 0, domain.NewValidationError("amount", fmt.Sprintf("deposit must be positive, got %f", amount))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.totalShares == 0 {
		a.sharePrice = 1.0
	}
	shares := amount / a.sharePrice

	now := a.clock.Now()
	pos, err := a.stakes.Get(ctx, accountID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			return 0, fmt.Errorf("failed to load stake position: %w", err)
		}
		pos = &persistence.StakePosition{AccountID: accountID, DepositedAt: now}
	}
	pos.Principal += amount
	pos.Shares += shares
	pos.UpdatedAt = now

	if err := a.stakes.Upsert(ctx, *pos); err != nil {
		return 0, fmt.Errorf("failed to save stake position: %w", err)
	}

	a.totalPrincipal += amount
	a.totalValue += amount
	a.totalShares += shares
	a.persistLocked(ctx)

	log.Debug().
		Str("account", accountID).
		Float64("amount", amount).
		Float64("shares", shares).
		Float64("share_price", a.sharePrice).
		Msg("vault deposit")

	return shares, nil
}

// Withdraw redeems shares at the current share price. Rejects non-positive
// share counts and returns ErrInsufficientShares when the position does not
// hold enough. A full withdrawal zeroes the position.
func (a *Accountant) Withdraw(ctx context.Context, accountID string, shares float64) (float64, error) {
	if accountID == "" {
		return 0, domain.NewValidationError("account_id", "must not be empty")
	}
	if shares <= 0 {
		return 0, domain.NewValidationError("shares", fmt.Sprintf("withdrawal must be positive, got %f", shares))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pos, err := a.stakes.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return 0, ErrInsufficientShares
		}
		return 0, fmt.Errorf("failed to load stake position: %w", err)
	}
	if pos.Shares < shares {
		return 0, ErrInsufficientShares
	}

	amount := shares * a.sharePrice

	// principal reduces proportionally to the shares redeemed
	principalOut := pos.Principal * (shares / pos.Shares)

	pos.Shares -= shares
	pos.Principal -= principalOut
	pos.UpdatedAt = a.clock.Now()

	if pos.Shares == 0 {
		if err := a.stakes.Delete(ctx, accountID); err != nil {
			return 0, fmt.Errorf("failed to remove stake position: %w", err)
		}
	} else {
		if err := a.stakes.Upsert(ctx, *pos); err != nil {
			return 0, fmt.Errorf("failed to save stake position: %w", err)
		}
	}

	a.totalShares -= shares
	a.totalValue -= amount
	a.totalPrincipal -= principalOut
	a.persistLocked(ctx)

	log.Debug().
		Str("account", accountID).
		Float64("shares", shares).
		Float64("amount", amount).
		Msg("vault withdrawal")

	return amount, nil
}

// Compound folds accrued yield into total value, extracting the performance
// fee into the accrued fee pool, then recomputes the share price. The state
// machine guarantees at most one compound in flight; a no-op at zero shares
// still stamps the compound time so the scheduler does not spin.
func (a *Accountant) Compound(ctx context.Context, yieldAmount, performanceFeeRate float64) (*CompoundResult, error) {
	if yieldAmount < 0 {
		return nil, domain.NewValidationError("yield_amount", fmt.Sprintf("must be non-negative, got %f", yieldAmount))
	}
	if performanceFeeRate < 0 || performanceFeeRate >= 1 {
		return nil, domain.NewValidationError("performance_fee_rate", fmt.Sprintf("must be in [0, 1), got %f", performanceFeeRate))
	}

	// Idle -> Compounding; a second trigger is rejected, never queued
	if !a.compounding.CompareAndSwap(false, true) {
		return nil, ErrCompoundInFlight
	}
	defer a.compounding.Store(false)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	result := &CompoundResult{CompoundedAt: now}

	if a.totalShares == 0 {
		a.lastCompound = now
		result.SharePrice = a.sharePrice
		result.ZeroShares = true
		a.persistLocked(ctx)
		return result, nil
	}

	fee := yieldAmount * performanceFeeRate
	net := yieldAmount - fee

	a.totalValue += net
	a.accruedFees += fee
	a.sharePrice = a.totalValue / a.totalShares
	a.lastCompound = now

	result.YieldApplied = net
	result.FeeExtracted = fee
	result.SharePrice = a.sharePrice
	result.TotalValue = a.totalValue
	a.persistLocked(ctx)

	log.Info().
		Float64("yield", yieldAmount).
		Float64("fee", fee).
		Float64("share_price", a.sharePrice).
		Msg("vault compounded")

	return result, nil
}

// Snapshot returns a copy of the vault-wide accounting state
func (a *Accountant) Snapshot() persistence.VaultSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// CurrentState returns the compounding state
func (a *Accountant) CurrentState() State {
	if a.compounding.Load() {
		return StateCompounding
	}
	return StateIdle
}

// LastCompound returns the timestamp of the most recent compound
func (a *Accountant) LastCompound() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCompound
}

func (a *Accountant) snapshotLocked() persistence.VaultSnapshot {
	return persistence.VaultSnapshot{
		TotalPrincipal: a.totalPrincipal,
		TotalValue:     a.totalValue,
		TotalShares:    a.totalShares,
		SharePrice:     a.sharePrice,
		AccruedFees:    a.accruedFees,
		LastCompoundAt: a.lastCompound,
	}
}

// persistLocked saves the current snapshot when a vault store is configured.
// A failed save is logged, not returned: the in-memory state is authoritative
// for the running process and the next mutation retries the save.
func (a *Accountant) persistLocked(ctx context.Context) {
	if a.vaults == nil {
		return
	}
	if err := a.vaults.Save(ctx, a.snapshotLocked()); err != nil {
		log.Error().Err(err).Msg("failed to persist vault snapshot")
	}
}
