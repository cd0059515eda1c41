package claim

import (
	"context"
	"sync"
	"time"
)

// accountLocks provides single-writer-per-account serialization. Each account
// gets a one-slot semaphore; acquisition is bounded so a contended claim fails
// fast with ErrBusy instead of queuing without limit.
type accountLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{slots: make(map[string]chan struct{})}
}

func (l *accountLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// acquire takes the account's slot, waiting at most timeout. Returns a release
// function on success, ErrBusy on timeout, or the context error if the caller
// was cancelled first.
func (l *accountLocks) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	s := l.slot(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
