package device

import (
	"errors"
	"time"
)

// ErrBusy is returned when a peer's playback lock cannot be acquired in time.
var ErrBusy = errors.New("peer playback busy")

// DefaultAcquireTimeout bounds how long a caller waits for the playback lock
// before the request is dropped.
const DefaultAcquireTimeout = time.Second

// Lock serializes local playback on one peer. Acquisition waits a bounded
// time so an overlapping announcement is dropped rather than queued behind a
// long-running one.
type Lock struct {
	ch chan struct{}
}

// NewLock creates a free lock.
func NewLock() *Lock {
	l := &Lock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire takes the lock, waiting at most timeout. A zero timeout means
// DefaultAcquireTimeout.
func (l *Lock) Acquire(timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultAcquireTimeout
	}
	select {
	case <-l.ch:
		return nil
	case <-time.After(timeout):
		return ErrBusy
	}
}

// TryAcquire takes the lock only if it is immediately free.
func (l *Lock) TryAcquire() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Release frees the lock. Releasing a free lock is a no-op.
func (l *Lock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}
