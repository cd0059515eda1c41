// Package engine wires the yield pipeline together: capsule engagement flows
// through the yield formula, the tier resolver and the reward converter into
// per-account claimable summaries, with the claim coordinator and vault
// accountant gating mutations. Request handlers consume this package only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/veritaslabs/yieldengine/internal/cache"
	"github.com/veritaslabs/yieldengine/internal/claim"
	"github.com/veritaslabs/yieldengine/internal/config"
	"github.com/veritaslabs/yieldengine/internal/domain"
	"github.com/veritaslabs/yieldengine/internal/metrics"
	"github.com/veritaslabs/yieldengine/internal/persistence"
	"github.com/veritaslabs/yieldengine/internal/settlement"
	"github.com/veritaslabs/yieldengine/internal/vault"
)

// Stores groups the persistence interfaces the engine reads and writes
type Stores struct {
	Accounts persistence.AccountStore
	Capsules persistence.CapsuleStore
	Claims   persistence.ClaimStore
	Stakes   persistence.StakeStore
	Vault    persistence.VaultStore
}

// Options configures an Engine. Cache, Metrics and Dispatcher are optional;
// everything else is required.
type Options struct {
	Config     *config.Config
	Stores     Stores
	Cache      *cache.SummaryCache
	Metrics    *metrics.Registry
	Dispatcher *settlement.Dispatcher
	Clock      clockwork.Clock
}

// Engine is the yield and reward accrual core
type Engine struct {
	cfg       *config.Config
	resolver  *domain.Resolver
	formula   *domain.Formula
	converter *domain.Converter

	stores     Stores
	claims     *claim.Coordinator
	vault      *vault.Accountant
	cache      *cache.SummaryCache
	metrics    *metrics.Registry
	dispatcher *settlement.Dispatcher
	clock      clockwork.Clock
}

// New creates a fully wired engine. The configuration must already be
// validated; New re-validates and fails fast on bad financial parameters.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, &config.ConfigurationError{Field: "config", Reason: "configuration is required"}
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Stores.Accounts == nil || opts.Stores.Capsules == nil || opts.Stores.Claims == nil ||
		opts.Stores.Stakes == nil {
		return nil, fmt.Errorf("account, capsule, claim and stake stores are required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	e := &Engine{
		cfg:       opts.Config,
		resolver:  domain.NewResolver(opts.Config.MultiplierParams()),
		formula:   domain.NewFormula(opts.Config.YieldParams()),
		converter: domain.NewConverter(opts.Config.ConversionRate, opts.Config.BaseAPY),

		stores:     opts.Stores,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		dispatcher: opts.Dispatcher,
		clock:      opts.Clock,
	}

	acct, err := vault.NewAccountant(vault.Options{
		Stakes: opts.Stores.Stakes,
		Vaults: opts.Stores.Vault,
		Clock:  opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	e.vault = acct

	coord, err := claim.NewCoordinator(claim.Options{
		Store:       opts.Stores.Claims,
		Entitlement: e.computeSummary,
		LockTimeout: opts.Config.Claim.LockTimeout.Std(),
		Tolerance:   opts.Config.Claim.AmountTolerance,
		Token:       opts.Config.Claim.Token,
		Clock:       opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	e.claims = coord

	return e, nil
}

// Vault exposes the vault accountant for the compound scheduler
func (e *Engine) Vault() *vault.Accountant {
	return e.vault
}

// Restore loads durable vault state. Call once at startup.
func (e *Engine) Restore(ctx context.Context) error {
	return e.vault.Restore(ctx)
}

// ClaimableSummary returns the account's current claimable position. Served
// from the redis cache when warm; computed from capsules, tier and stake age
// otherwise.
func (e *Engine) ClaimableSummary(ctx context.Context, accountID string) (domain.Summary, error) {
	if accountID == "" {
		return domain.Summary{}, domain.NewValidationError("account_id", "must not be empty")
	}

	if e.cache != nil {
		if cached, found, err := e.cache.Get(ctx, accountID); err != nil {
			log.Warn().Err(err).Str("account", accountID).Msg("summary cache read failed, recomputing")
		} else if found {
			if e.metrics != nil {
				e.metrics.CacheHits.Inc()
			}
			return *cached, nil
		}
		if e.metrics != nil {
			e.metrics.CacheMisses.Inc()
		}
	}

	summary, err := e.computeSummary(ctx, accountID)
	if err != nil {
		return domain.Summary{}, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, summary); err != nil {
			log.Warn().Err(err).Str("account", accountID).Msg("summary cache write failed")
		}
	}

	return summary, nil
}

// computeSummary is the uncached entitlement path. The claim coordinator
// calls it under the account lock, so claims never validate against a stale
// cached amount.
func (e *Engine) computeSummary(ctx context.Context, accountID string) (domain.Summary, error) {
	acct, err := e.stores.Accounts.Get(ctx, accountID)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to load account: %w", err)
	}

	capsules, err := e.stores.Capsules.ListByCreator(ctx, accountID)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to list capsules: %w", err)
	}

	now := e.clock.Now()
	multiplier := e.resolver.ResolveMultiplier(acct.Tier, e.stakingPeriodDays(ctx, accountID, now))

	entries := make([]domain.BreakdownEntry, 0, len(capsules))
	for _, capsule := range capsules {
		yieldScore := e.formula.ComputeYield(capsule)
		entries = append(entries, e.converter.Breakdown(capsule, yieldScore, multiplier, now))
	}

	summary := domain.Aggregate(accountID, entries, now)

	// periods already claimed no longer count toward the claimable amount
	claimed, err := e.stores.Claims.ListByAccount(ctx, accountID, 0)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to list claims: %w", err)
	}
	for _, rec := range claimed {
		summary.Amount -= rec.Amount
	}
	if summary.Amount < 0 {
		summary.Amount = 0
	}

	return summary, nil
}

// stakingPeriodDays measures how long the account's stake has been in the
// vault. No stake position means no period bonus.
func (e *Engine) stakingPeriodDays(ctx context.Context, accountID string, now time.Time) int {
	pos, err := e.stores.Stakes.Get(ctx, accountID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Str("account", accountID).Msg("stake lookup failed, period bonus skipped")
		}
		return 0
	}
	return int(now.Sub(pos.DepositedAt).Hours() / 24)
}

// Claim executes a reward claim and, when a fresh claim succeeds, dispatches
// the settlement intent. A dispatch failure does not roll the claim back; the
// intent is returned for reconciliation, matching the ledger's
// compute-then-settle split.
func (e *Engine) Claim(ctx context.Context, accountID, periodID string, amount float64) (*claim.Result, error) {
	result, err := e.claims.Claim(ctx, accountID, periodID, amount)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ClaimsTotal.WithLabelValues(result.Status.String()).Inc()
		if result.Status == claim.StatusClaimed {
			e.metrics.ClaimAmounts.Observe(result.Record.Amount)
		}
	}

	if result.Status == claim.StatusClaimed {
		if e.cache != nil {
			if err := e.cache.Invalidate(ctx, accountID); err != nil {
				log.Warn().Err(err).Str("account", accountID).Msg("summary cache invalidation failed")
			}
		}
		if e.dispatcher != nil && result.Intent != nil {
			if err := e.dispatcher.Dispatch(ctx, *result.Intent); err != nil {
				if e.metrics != nil {
					e.metrics.SettlementsTotal.WithLabelValues("failed").Inc()
				}
				log.Error().Err(err).
					Str("account", accountID).
					Str("intent", result.Intent.ID).
					Msg("settlement dispatch failed, intent requires reconciliation")
			} else if e.metrics != nil {
				e.metrics.SettlementsTotal.WithLabelValues("dispatched").Inc()
			}
		}
	}

	return result, nil
}

// Deposit stakes principal into the vault
func (e *Engine) Deposit(ctx context.Context, accountID string, amount float64) (float64, error) {
	shares, err := e.vault.Deposit(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.DepositsTotal.Inc()
		e.observeVault()
	}
	return shares, nil
}

// Withdraw redeems vault shares
func (e *Engine) Withdraw(ctx context.Context, accountID string, shares float64) (float64, error) {
	amount, err := e.vault.Withdraw(ctx, accountID, shares)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.WithdrawalsTotal.Inc()
		e.observeVault()
	}
	return amount, nil
}

// ClaimHistory returns recent claims for an account
func (e *Engine) ClaimHistory(ctx context.Context, accountID string, limit int) ([]persistence.ClaimRecord, error) {
	return e.claims.History(ctx, accountID, limit)
}

func (e *Engine) observeVault() {
	snap := e.vault.Snapshot()
	e.metrics.SharePrice.Set(snap.SharePrice)
	e.metrics.TotalShares.Set(snap.TotalShares)
	e.metrics.AccruedFees.Set(snap.AccruedFees)
}
