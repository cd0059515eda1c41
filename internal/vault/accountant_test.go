package vault

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritaslabs/yieldengine/internal/domain"
	"github.com/veritaslabs/yieldengine/internal/persistence/memory"
)

func newTestAccountant(t *testing.T) (*Accountant, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	store := memory.NewStore()
	clock := clockwork.NewFakeClock()

	acct, err := NewAccountant(Options{
		Stakes: store.Stakes(),
		Vaults: store.Vault(),
		Clock:  clock,
	})
	require.NoError(t, err)
	return acct, store, clock
}

func TestDeposit_BootstrapSharePrice(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	shares, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, shares, "first depositor receives amount shares at price 1.0")

	snap := acct.Snapshot()
	assert.Equal(t, 1.0, snap.SharePrice)
	assert.Equal(t, 100.0, snap.TotalShares)
	assert.Equal(t, 100.0, snap.TotalPrincipal)
}

func TestDeposit_RejectsNonPositive(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	var vErr *domain.ValidationError
	_, err := acct.Deposit(ctx, "acct-1", 0)
	require.ErrorAs(t, err, &vErr)

	_, err = acct.Deposit(ctx, "acct-1", -5)
	require.ErrorAs(t, err, &vErr)

	_, err = acct.Deposit(ctx, "", 10)
	require.ErrorAs(t, err, &vErr)
}

func TestCompound_ReferenceScenario(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	_, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)

	// yield 10 at 2% fee: value 100 + 9.8, price 1.098
	result, err := acct.Compound(ctx, 10, 0.02)
	require.NoError(t, err)

	assert.InDelta(t, 9.8, result.YieldApplied, 1e-9)
	assert.InDelta(t, 0.2, result.FeeExtracted, 1e-9)
	assert.InDelta(t, 1.098, result.SharePrice, 1e-9)

	snap := acct.Snapshot()
	assert.InDelta(t, 109.8, snap.TotalValue, 1e-9)
	assert.InDelta(t, 0.2, snap.AccruedFees, 1e-9)
}

func TestCompound_NoOpAtZeroShares(t *testing.T) {
	acct, _, clock := newTestAccountant(t)
	ctx := context.Background()

	result, err := acct.Compound(ctx, 50, 0.02)
	require.NoError(t, err)

	assert.True(t, result.ZeroShares)
	assert.Equal(t, 1.0, result.SharePrice)
	assert.Equal(t, clock.Now(), acct.LastCompound())
}

func TestCompound_FeeNeverExceedsYield(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	_, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)

	result, err := acct.Compound(ctx, 7.5, 0.5)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.FeeExtracted, 7.5)
	assert.InDelta(t, 7.5, result.FeeExtracted+result.YieldApplied, 1e-9)
}

func TestCompound_RejectsInvalidInputs(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	var vErr *domain.ValidationError
	_, err := acct.Compound(ctx, -1, 0.02)
	require.ErrorAs(t, err, &vErr)

	_, err = acct.Compound(ctx, 10, 1.0)
	require.ErrorAs(t, err, &vErr)
}

func TestWithdraw_InsufficientShares(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	_, err := acct.Withdraw(ctx, "nobody", 10)
	require.ErrorIs(t, err, ErrInsufficientShares)

	_, err = acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)

	_, err = acct.Withdraw(ctx, "acct-1", 100.01)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestWithdraw_FullWithdrawalZeroesPosition(t *testing.T) {
	acct, store, _ := newTestAccountant(t)
	ctx := context.Background()

	shares, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)

	amount, err := acct.Withdraw(ctx, "acct-1", shares)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, amount, 1e-9)

	_, err = store.Stakes().Get(ctx, "acct-1")
	assert.Error(t, err, "position should be removed after full withdrawal")

	snap := acct.Snapshot()
	assert.InDelta(t, 0, snap.TotalShares, 1e-9)
	assert.InDelta(t, 0, snap.TotalValue, 1e-9)
}

func TestWithdraw_AfterCompoundPaysYield(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	shares, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)

	_, err = acct.Compound(ctx, 10, 0.02)
	require.NoError(t, err)

	amount, err := acct.Withdraw(ctx, "acct-1", shares)
	require.NoError(t, err)
	assert.InDelta(t, 109.8, amount, 1e-9, "full redemption pays principal plus net yield")
}

func TestSharePrice_MonotonicAcrossCompounds(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	_, err := acct.Deposit(ctx, "acct-1", 1000)
	require.NoError(t, err)

	prev := acct.Snapshot().SharePrice
	for i := 0; i < 20; i++ {
		_, err := acct.Compound(ctx, float64(i), 0.02)
		require.NoError(t, err)

		price := acct.Snapshot().SharePrice
		assert.GreaterOrEqual(t, price, prev, "share price must not decrease across compounds")
		prev = price
	}
}

func TestConcurrentDeposits_ShareConservation(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	const depositors = 32
	var wg sync.WaitGroup
	wg.Add(depositors)

	for i := 0; i < depositors; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := acct.Deposit(ctx, "acct-"+string(rune('a'+n%26)), 10)
			if err != nil {
				t.Errorf("deposit failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap := acct.Snapshot()
	assert.InDelta(t, float64(depositors)*10, snap.TotalPrincipal, 1e-9)
	assert.InDelta(t, float64(depositors)*10, snap.TotalShares, 1e-9)
	assert.Greater(t, snap.SharePrice, 0.0)
}

func TestSharePricePositive_AfterMixedSequence(t *testing.T) {
	acct, _, _ := newTestAccountant(t)
	ctx := context.Background()

	sharesA, err := acct.Deposit(ctx, "a", 100)
	require.NoError(t, err)
	_, err = acct.Deposit(ctx, "b", 250)
	require.NoError(t, err)

	_, err = acct.Compound(ctx, 12, 0.02)
	require.NoError(t, err)

	_, err = acct.Withdraw(ctx, "a", sharesA/2)
	require.NoError(t, err)

	_, err = acct.Compound(ctx, 5, 0.02)
	require.NoError(t, err)

	snap := acct.Snapshot()
	if snap.TotalShares > 0 {
		assert.Greater(t, snap.SharePrice, 0.0)
		assert.False(t, math.IsNaN(snap.SharePrice))
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	acct, store, _ := newTestAccountant(t)
	ctx := context.Background()

	_, err := acct.Deposit(ctx, "acct-1", 100)
	require.NoError(t, err)
	_, err = acct.Compound(ctx, 10, 0.02)
	require.NoError(t, err)

	restored, err := NewAccountant(Options{
		Stakes: store.Stakes(),
		Vaults: store.Vault(),
		Clock:  clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))

	snap := restored.Snapshot()
	assert.InDelta(t, 1.098, snap.SharePrice, 1e-9)
	assert.InDelta(t, 109.8, snap.TotalValue, 1e-9)
}

func TestCompound_StateMachineRejectsOverlap(t *testing.T) {
	acct, _, _ := newTestAccountant(t)

	// force the compounding state as the scheduler would mid-run
	require.True(t, acct.compounding.CompareAndSwap(false, true))
	defer acct.compounding.Store(false)

	assert.Equal(t, StateCompounding, acct.CurrentState())

	_, err := acct.Compound(context.Background(), 10, 0.02)
	require.ErrorIs(t, err, ErrCompoundInFlight)
}
