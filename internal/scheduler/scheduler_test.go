package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritaslabs/yieldengine/internal/persistence/memory"
	"github.com/veritaslabs/yieldengine/internal/vault"
)

func newTestVault(t *testing.T, clock clockwork.Clock) *vault.Accountant {
	t.Helper()
	store := memory.NewStore()
	acct, err := vault.NewAccountant(vault.Options{
		Stakes: store.Stakes(),
		Vaults: store.Vault(),
		Clock:  clock,
	})
	require.NoError(t, err)
	return acct
}

func TestScheduler_CompoundsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	acct := newTestVault(t, clock)
	ctx := context.Background()

	_, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)

	sched, err := NewScheduler(Options{
		Vault:    acct,
		Source:   YieldSourceFunc(func(ctx context.Context) (float64, error) { return 10, nil }),
		Interval: 24 * time.Hour,
		FeeRate:  0.02,
		Clock:    clock,
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(runCtx) }()

	// let the loop reach the ticker before advancing
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(24 * time.Hour)

	require.Eventually(t, func() bool {
		return sched.Status().Runs == 1
	}, time.Second, 5*time.Millisecond)

	snap := acct.Snapshot()
	assert.InDelta(t, 1.098, snap.SharePrice, 1e-9)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_ManualTrigger(t *testing.T) {
	clock := clockwork.NewFakeClock()
	acct := newTestVault(t, clock)
	ctx := context.Background()

	_, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)

	var observed *vault.CompoundResult
	sched, err := NewScheduler(Options{
		Vault:    acct,
		Source:   YieldSourceFunc(func(ctx context.Context) (float64, error) { return 10, nil }),
		Interval: time.Hour,
		FeeRate:  0.02,
		Clock:    clock,
	})
	require.NoError(t, err)
	sched.OnCompound = func(r *vault.CompoundResult) { observed = r }

	require.NoError(t, sched.Trigger(ctx))

	require.NotNil(t, observed)
	assert.InDelta(t, 1.098, observed.SharePrice, 1e-9)
	assert.Equal(t, int64(1), sched.Status().Runs)
}

func TestScheduler_YieldSourceFailureRecorded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	acct := newTestVault(t, clock)

	sched, err := NewScheduler(Options{
		Vault:    acct,
		Source:   YieldSourceFunc(func(ctx context.Context) (float64, error) { return 0, errors.New("pipeline down") }),
		Interval: time.Hour,
		FeeRate:  0.02,
		Clock:    clock,
	})
	require.NoError(t, err)

	err = sched.Trigger(context.Background())
	require.Error(t, err)

	status := sched.Status()
	assert.Equal(t, int64(1), status.Failures)
	assert.Contains(t, status.LastError, "pipeline down")
	assert.Equal(t, int64(0), status.Runs)
}

func TestScheduler_StatusReflectsVault(t *testing.T) {
	clock := clockwork.NewFakeClock()
	acct := newTestVault(t, clock)

	sched, err := NewScheduler(Options{
		Vault:    acct,
		Source:   YieldSourceFunc(func(ctx context.Context) (float64, error) { return 0, nil }),
		Interval: time.Hour,
		FeeRate:  0.02,
		Clock:    clock,
	})
	require.NoError(t, err)

	status := sched.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "idle", status.VaultState)
	assert.Equal(t, 1.0, status.SharePrice)
	assert.True(t, status.NextRun.IsZero(), "no next run before the first compound")
}

func TestNewScheduler_Validation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	acct := newTestVault(t, clock)
	src := YieldSourceFunc(func(ctx context.Context) (float64, error) { return 0, nil })

	_, err := NewScheduler(Options{Source: src, Interval: time.Hour})
	require.Error(t, err)

	_, err = NewScheduler(Options{Vault: acct, Interval: time.Hour})
	require.Error(t, err)

	_, err = NewScheduler(Options{Vault: acct, Source: src, Interval: 0})
	require.Error(t, err)
}
