// Package settlement hands claim settlement intents to the external
// minting/transfer collaborator. Dispatch is rate limited and breaker
// guarded; a failed dispatch is returned to the caller for reconciliation,
// never retried here.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/veritaslabs/yieldengine/internal/claim"
)

// ErrThrottled is returned when the dispatch rate limit is exhausted and the
// context expires before a slot opens. Retryable.
var ErrThrottled = errors.New("settlement dispatch throttled")

// Settler is the external minting/transfer collaborator
type Settler interface {
	// Settle executes the mint/transfer for an intent
	Settle(ctx context.Context, intent claim.SettlementIntent) error
}

// Dispatcher throttles and circuit-breaks settlement handoff
type Dispatcher struct {
	settler Settler
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewDispatcher creates a settlement dispatcher. The breaker trips after
// three consecutive failures or a >5% failure rate over a meaningful sample,
// matching how upstream provider calls are guarded elsewhere in the platform.
func NewDispatcher(settler Settler, ratePerSecond float64, burst int) (*Dispatcher, error) {
	if settler == nil {
		return nil, fmt.Errorf("settler is required")
	}

	settings := gobreaker.Settings{Name: "settlement"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &Dispatcher{
		settler: settler,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}, nil
}

// Dispatch sends one intent to the settler. Blocks for a rate slot up to the
// context deadline; surfaces breaker-open and settler errors unchanged so the
// caller can record the intent for reconciliation.
func (d *Dispatcher) Dispatch(ctx context.Context, intent claim.SettlementIntent) error {
	if err := d.limiter.Wait(ctx); err != nil {
		log.Warn().Str("intent", intent.ID).Err(err).Msg("settlement dispatch throttled")
		return ErrThrottled
	}

	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.settler.Settle(ctx, intent)
	})
	if err != nil {
		log.Error().
			Str("intent", intent.ID).
			Str("account", intent.AccountID).
			Float64("amount", intent.Amount).
			Err(err).
			Msg("settlement dispatch failed")
		return fmt.Errorf("settlement dispatch: %w", err)
	}

	log.Info().
		Str("intent", intent.ID).
		Str("account", intent.AccountID).
		Float64("amount", intent.Amount).
		Str("token", intent.Token).
		Msg("settlement dispatched")

	return nil
}

// State returns the breaker state for health reporting
func (d *Dispatcher) State() gobreaker.State {
	return d.breaker.State()
}
