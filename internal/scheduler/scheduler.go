// Package scheduler drives periodic vault compounding. The auto-compound the
// dashboard faked with client-side timers is a real interval job here,
// operating on durable vault state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/veritaslabs/yieldengine/internal/vault"
)

// YieldSource reports the yield accrued since the last compound. In
// production this is fed by the platform's revenue pipeline; tests and the
// simulator plug in fixed values.
type YieldSource interface {
	AccruedYield(ctx context.Context) (float64, error)
}

// YieldSourceFunc adapts a function to the YieldSource interface
type YieldSourceFunc func(ctx context.Context) (float64, error)

// AccruedYield implements YieldSource
func (f YieldSourceFunc) AccruedYield(ctx context.Context) (float64, error) {
	return f(ctx)
}

// Status reports scheduler state for health endpoints
type Status struct {
	Running     bool      `json:"running"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	LastRun     time.Time `json:"last_run"`
	LastError   string    `json:"last_error,omitempty"`
	NextRun     time.Time `json:"next_run"`
	VaultState  string    `json:"vault_state"`
	SharePrice  float64   `json:"share_price"`
	TotalShares float64   `json:"total_shares"`
}

// Options configures a Scheduler
type Options struct {
	Vault    *vault.Accountant
	Source   YieldSource
	Interval time.Duration
	FeeRate  float64
	Clock    clockwork.Clock

	// Durations, when set, receives the wall time of each successful
	// compound in seconds
	Durations prometheus.Observer
}

// Scheduler runs the compound job on an interval
type Scheduler struct {
	vault     *vault.Accountant
	source    YieldSource
	interval  time.Duration
	feeRate   float64
	clock     clockwork.Clock
	durations prometheus.Observer

	mu        sync.Mutex
	running   bool
	runs      int64
	failures  int64
	lastRun   time.Time
	lastError string

	// OnCompound, when set, observes each successful compound result.
	// Used to push share price into metrics.
	OnCompound func(result *vault.CompoundResult)
}

// NewScheduler creates a compound scheduler
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Vault == nil {
		return nil, fmt.Errorf("vault accountant is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("yield source is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("compound interval must be positive, got %s", opts.Interval)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		vault:     opts.Vault,
		source:    opts.Source,
		interval:  opts.Interval,
		feeRate:   opts.FeeRate,
		clock:     opts.Clock,
		durations: opts.Durations,
	}, nil
}

// Run executes the compound loop until the context is cancelled. Blocking;
// callers run it in a goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Info().
		Dur("interval", s.interval).
		Float64("fee_rate", s.feeRate).
		Msg("compound scheduler started")

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("compound scheduler stopped")
			return ctx.Err()
		case <-ticker.Chan():
			s.runOnce(ctx)
		}
	}
}

// Trigger runs one compound immediately, outside the schedule. Used by the
// manual trigger path; overlap with a scheduled run resolves to
// ErrCompoundInFlight from the vault.
func (s *Scheduler) Trigger(ctx context.Context) error {
	return s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	accrued, err := s.source.AccruedYield(ctx)
	if err != nil {
		s.recordFailure(fmt.Sprintf("yield source: %v", err))
		log.Error().Err(err).Msg("compound skipped, yield source failed")
		return fmt.Errorf("yield source: %w", err)
	}

	started := s.clock.Now()
	result, err := s.vault.Compound(ctx, accrued, s.feeRate)
	if err != nil {
		if errors.Is(err, vault.ErrCompoundInFlight) {
			log.Warn().Msg("compound skipped, another compound in flight")
			return err
		}
		s.recordFailure(err.Error())
		log.Error().Err(err).Msg("compound failed")
		return err
	}

	s.mu.Lock()
	s.runs++
	s.lastRun = result.CompoundedAt
	s.lastError = ""
	s.mu.Unlock()

	if s.durations != nil {
		s.durations.Observe(s.clock.Now().Sub(started).Seconds())
	}
	if s.OnCompound != nil {
		s.OnCompound(result)
	}
	return nil
}

func (s *Scheduler) recordFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastError = msg
}

// Status returns a snapshot of scheduler and vault health
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	runs := s.runs
	failures := s.failures
	lastRun := s.lastRun
	lastError := s.lastError
	s.mu.Unlock()

	snap := s.vault.Snapshot()
	next := lastRun.Add(s.interval)
	if lastRun.IsZero() {
		next = time.Time{}
	}

	return Status{
		Running:     running,
		Runs:        runs,
		Failures:    failures,
		LastRun:     lastRun,
		LastError:   lastError,
		NextRun:     next,
		VaultState:  s.vault.CurrentState().String(),
		SharePrice:  snap.SharePrice,
		TotalShares: snap.TotalShares,
	}
}
