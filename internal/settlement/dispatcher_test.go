package settlement

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritaslabs/yieldengine/internal/claim"
)

type fakeSettler struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSettler) Settle(ctx context.Context, intent claim.SettlementIntent) error {
	f.calls.Add(1)
	return f.err
}

func testIntent() claim.SettlementIntent {
	return claim.SettlementIntent{
		ID:        "intent-1",
		AccountID: "acct-1",
		PeriodID:  "2026-08",
		Amount:    92.25,
		Token:     "VRT",
		CreatedAt: time.Now(),
	}
}

func TestDispatch_Success(t *testing.T) {
	settler := &fakeSettler{}
	d, err := NewDispatcher(settler, 100, 10)
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), testIntent()))
	assert.Equal(t, int64(1), settler.calls.Load())
	assert.Equal(t, gobreaker.StateClosed, d.State())
}

func TestDispatch_SettlerErrorSurfaces(t *testing.T) {
	wantErr := errors.New("chain unavailable")
	d, err := NewDispatcher(&fakeSettler{err: wantErr}, 100, 10)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), testIntent())
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestDispatch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	settler := &fakeSettler{err: errors.New("down")}
	d, err := NewDispatcher(settler, 1000, 100)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = d.Dispatch(ctx, testIntent())
	}
	assert.Equal(t, gobreaker.StateOpen, d.State())
	require.Equal(t, int64(3), settler.calls.Load())

	// further dispatches are rejected without reaching the settler
	err = d.Dispatch(ctx, testIntent())
	require.Error(t, err)
	assert.Equal(t, int64(3), settler.calls.Load())
}

func TestDispatch_ThrottledWhenContextExpires(t *testing.T) {
	// limiter with no burst can never grant a slot before the deadline
	d, err := NewDispatcher(&fakeSettler{}, 0.001, 1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, testIntent()), "burst slot should admit the first dispatch")

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err = d.Dispatch(ctx, testIntent())
	require.ErrorIs(t, err, ErrThrottled)
}

func TestNewDispatcher_RequiresSettler(t *testing.T) {
	_, err := NewDispatcher(nil, 10, 10)
	require.Error(t, err)
}
