// Package engine implements the acquisition loop that hands out slots in
// the shared sliding window.
package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ratefence/ratefence/internal/core"
)

// RecordStore loads and commits the durable window record.
type RecordStore interface {
	Load(ctx context.Context) (*core.WindowRecord, error)
	Commit(ctx context.Context, record *core.WindowRecord) error
}

// Locker serializes record access across processes.
type Locker interface {
	TryAcquire() (bool, error)
	Release() error
}

// Limiter acquires slots in a shared sliding-window quota. Multiple
// processes construct their own Limiter over the same record and lock paths;
// the filesystem is the only coordination substrate.
type Limiter struct {
	Store RecordStore
	Lock  Locker

	// Limit is the maximum number of grants inside one trailing Window.
	Limit  int
	Window time.Duration

	// PollInterval is the base unit for both the at-capacity wait and the
	// jitter range used after lock contention.
	PollInterval time.Duration

	// MaxWait is the hard ceiling on Acquire latency; past it the call
	// returns denied instead of blocking further.
	MaxWait time.Duration

	// Clock and Sleep are injectable for tests.
	Clock func() time.Time
	Sleep func(time.Duration)

	stats processStats

	// Wait episodes observed while the lock was not held; folded into the
	// durable counters at the next commit this process performs.
	pendingCapacityWaits atomic.Int64
	pendingTimeouts      atomic.Int64
}

type processStats struct {
	granted         atomic.Int64
	lockContentions atomic.Int64
	capacityWaits   atomic.Int64
	timeouts        atomic.Int64
}

// Stats is the read-only diagnostic view of one process's limiter. It is
// maintained with atomics and never requires the cross-process lock.
type Stats struct {
	Granted         int64 `json:"granted"`
	LockContentions int64 `json:"lock_contentions"`
	CapacityWaits   int64 `json:"capacity_waits"`
	Timeouts        int64 `json:"timeouts"`
}

// ErrNotConfigured is returned when the limiter is missing its store or lock.
var ErrNotConfigured = errors.New("limiter is not configured")

// Acquire obtains one slot in the shared window, blocking up to MaxWait.
// It returns (true, nil) when a slot was granted and (false, nil) when the
// window stayed saturated for the whole wait; the caller treats denial as
// "rate limit currently saturated", not as a fault. Errors are reserved for
// unrecoverable filesystem conditions.
//
// The lock is never held across a sleep: at-capacity and contention waits
// both happen with the lock released, so slots vacated by aging timestamps
// become visible to whichever process wins the lock next.
func (l *Limiter) Acquire(ctx context.Context) (bool, error) {
	if l == nil || l.Store == nil || l.Lock == nil {
		return false, ErrNotConfigured
	}

	start := l.now()
	deadline := start.Add(l.MaxWait)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		locked, err := l.Lock.TryAcquire()
		if err != nil {
			return false, err
		}

		if locked {
			granted, err := l.tryGrant(ctx)
			if err != nil {
				return false, err
			}
			if granted {
				l.stats.granted.Add(1)
				return true, nil
			}

			// At capacity. The window's own timestamps already
			// desynchronize waiters here, so the wait is unjittered.
			l.stats.capacityWaits.Add(1)
			l.pendingCapacityWaits.Add(1)
			if l.expired(deadline, l.PollInterval) {
				return l.deny()
			}
			l.sleep(l.PollInterval)
			continue
		}

		// Lock busy: back off for a jittered interval so concurrent
		// waiters do not all retry at the same instant.
		l.stats.lockContentions.Add(1)
		wait := l.jitter()
		if l.expired(deadline, wait) {
			return l.deny()
		}
		l.sleep(wait)
	}
}

// tryGrant runs one load-evict-append-commit cycle under the lock.
func (l *Limiter) tryGrant(ctx context.Context) (granted bool, err error) {
	defer func() {
		if releaseErr := l.Lock.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	record, err := l.Store.Load(ctx)
	if err != nil {
		return false, err
	}

	now := l.now()
	record.Evict(now, l.Window)
	if !record.TryAppend(now, l.Limit) {
		return false, nil
	}

	record.Counters.Granted++
	record.Counters.CapacityWaits += l.pendingCapacityWaits.Swap(0)
	record.Counters.Timeouts += l.pendingTimeouts.Swap(0)

	if err := l.Store.Commit(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Limiter) deny() (bool, error) {
	l.stats.timeouts.Add(1)
	l.pendingTimeouts.Add(1)
	return false, nil
}

// jitter returns a wait uniformly distributed in [P/2, P], spreading the
// retry instants of contending processes. math/rand/v2's global source is
// seeded from OS entropy per process, so separately spawned processes never
// share a jitter sequence.
func (l *Limiter) jitter() time.Duration {
	p := float64(l.PollInterval)
	return time.Duration(p * (0.5 + 0.5*rand.Float64()))
}

// expired reports whether sleeping for wait would overrun the deadline.
func (l *Limiter) expired(deadline time.Time, wait time.Duration) bool {
	return l.now().Add(wait).After(deadline)
}

// Stats returns this process's counters since construction.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Granted:         l.stats.granted.Load(),
		LockContentions: l.stats.lockContentions.Load(),
		CapacityWaits:   l.stats.capacityWaits.Load(),
		Timeouts:        l.stats.timeouts.Load(),
	}
}

// Snapshot combines process counters with a best-effort read of the shared
// record. The read happens without the lock: the snapshot may trail a
// concurrent commit by one version, which is acceptable for a diagnostic
// surface.
type Snapshot struct {
	Process  Stats         `json:"process"`
	Shared   core.Counters `json:"shared"`
	Usage    int           `json:"usage"`
	Limit    int           `json:"limit"`
	WindowMS int64         `json:"window_ms"`
}

// Snapshot reads the current diagnostic view.
func (l *Limiter) Snapshot(ctx context.Context) (*Snapshot, error) {
	if l == nil || l.Store == nil {
		return nil, ErrNotConfigured
	}

	record, err := l.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	record.Evict(l.now(), l.Window)

	return &Snapshot{
		Process:  l.Stats(),
		Shared:   record.Counters,
		Usage:    record.Usage(),
		Limit:    l.Limit,
		WindowMS: l.Window.Milliseconds(),
	}, nil
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

func (l *Limiter) sleep(d time.Duration) {
	if l != nil && l.Sleep != nil {
		l.Sleep(d)
		return
	}
	time.Sleep(d)
}
