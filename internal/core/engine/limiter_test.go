package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratefence/ratefence/internal/core"
	"github.com/ratefence/ratefence/internal/core/lock"
	"github.com/ratefence/ratefence/internal/core/store"
)

// fakeClock drives the limiter deterministically: Sleep advances the clock
// instead of blocking, so deadline behavior needs no wall time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *fakeClock) {
	t.Helper()
	dir := t.TempDir()
	clock := newFakeClock()
	limiter := &Limiter{
		Store:        store.New(filepath.Join(dir, "window.json")),
		Lock:         lock.New(filepath.Join(dir, "window.json.lock")),
		Limit:        limit,
		Window:       window,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      100 * time.Millisecond,
		Clock:        clock.Now,
		Sleep:        clock.Advance,
	}
	return limiter, clock
}

func TestAcquireGrantsUnderCapacity(t *testing.T) {
	limiter, _ := testLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		granted, err := limiter.Acquire(context.Background())
		require.NoError(t, err)
		require.True(t, granted)
	}

	stats := limiter.Stats()
	require.Equal(t, int64(3), stats.Granted)
	require.Equal(t, int64(0), stats.Timeouts)

	record, err := limiter.Store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, record.Usage())
	require.Equal(t, int64(3), record.Counters.Granted)
}

func TestAcquireDeniesAfterMaxWaitAtCapacity(t *testing.T) {
	limiter, _ := testLimiter(t, 1, time.Hour)

	granted, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, granted, "saturated window must deny, not block forever")

	stats := limiter.Stats()
	require.Equal(t, int64(1), stats.Granted)
	require.Equal(t, int64(1), stats.Timeouts)
	require.GreaterOrEqual(t, stats.CapacityWaits, int64(1))
}

func TestAcquireReusesVacatedSlots(t *testing.T) {
	limiter, clock := testLimiter(t, 1, time.Minute)

	granted, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, granted)

	clock.Advance(61 * time.Second)

	granted, err = limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, granted, "aged-out grants must free capacity")

	record, err := limiter.Store.Load(context.Background())
	require.NoError(t, err)
	record.Evict(clock.Now(), limiter.Window)
	require.Equal(t, 1, record.Usage())
}

func TestAcquireCountsLockContention(t *testing.T) {
	limiter, _ := testLimiter(t, 1, time.Minute)

	holder := lock.New(limiter.Lock.(*lock.Mutex).Path())
	locked, err := holder.TryAcquire()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { require.NoError(t, holder.Release()) }()

	granted, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, granted)

	stats := limiter.Stats()
	require.GreaterOrEqual(t, stats.LockContentions, int64(1))
	require.Equal(t, int64(1), stats.Timeouts)
}

func TestJitterStaysWithinHalfToFullPollInterval(t *testing.T) {
	limiter := &Limiter{PollInterval: 100 * time.Millisecond}

	min := time.Hour
	max := time.Duration(0)
	for i := 0; i < 1000; i++ {
		d := limiter.jitter()
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 100*time.Millisecond)
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	// A near-zero spread would mean the jitter is effectively absent.
	require.Greater(t, max-min, 20*time.Millisecond)
}

func TestSharedCountersFoldPendingWaits(t *testing.T) {
	limiter, clock := testLimiter(t, 1, time.Minute)

	granted, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, granted)

	// Saturate: this attempt times out and leaves pending wait counts.
	granted, err = limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, granted)

	// The next successful commit folds them into the durable counters.
	clock.Advance(2 * time.Minute)
	granted, err = limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, granted)

	record, err := limiter.Store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), record.Counters.Granted)
	require.GreaterOrEqual(t, record.Counters.CapacityWaits, int64(1))
	require.Equal(t, int64(1), record.Counters.Timeouts)
}

func TestSnapshotReadsWithoutLock(t *testing.T) {
	limiter, _ := testLimiter(t, 5, time.Minute)

	granted, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, granted)

	// Snapshot must work even while another handle holds the lock.
	holder := lock.New(limiter.Lock.(*lock.Mutex).Path())
	locked, err := holder.TryAcquire()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { require.NoError(t, holder.Release()) }()

	snapshot, err := limiter.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, snapshot.Usage)
	require.Equal(t, 5, snapshot.Limit)
	require.Equal(t, int64(1), snapshot.Process.Granted)
	require.Equal(t, int64(1), snapshot.Shared.Granted)
}

func TestAcquireNotConfigured(t *testing.T) {
	var limiter *Limiter
	_, err := limiter.Acquire(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = (&Limiter{}).Acquire(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	limiter, _ := testLimiter(t, 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context) (*core.WindowRecord, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) Commit(ctx context.Context, record *core.WindowRecord) error {
	return errors.New("disk on fire")
}

func TestAcquireSurfacesFilesystemErrors(t *testing.T) {
	dir := t.TempDir()
	limiter := &Limiter{
		Store:        failingStore{},
		Lock:         lock.New(filepath.Join(dir, "window.json.lock")),
		Limit:        1,
		Window:       time.Minute,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      100 * time.Millisecond,
	}

	granted, err := limiter.Acquire(context.Background())
	require.Error(t, err, "hard filesystem failures must not look like denial")
	require.False(t, granted)
}

func TestUncontendedAcquireIsFast(t *testing.T) {
	// Without contention or capacity pressure an acquisition is one lock,
	// one read and one atomic write; it must stay within a small multiple
	// of raw filesystem cost.
	dir := t.TempDir()
	limiter := &Limiter{
		Store:        store.New(filepath.Join(dir, "window.json")),
		Lock:         lock.New(filepath.Join(dir, "window.json.lock")),
		Limit:        10000,
		Window:       time.Minute,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      time.Second,
	}

	const n = 50
	start := time.Now()
	for i := 0; i < n; i++ {
		granted, err := limiter.Acquire(context.Background())
		require.NoError(t, err)
		require.True(t, granted)
	}
	elapsed := time.Since(start)

	require.Less(t, elapsed/n, 25*time.Millisecond,
		"uncontended acquisition is polling or doing unnecessary I/O")
}

// TestConcurrentAcquireRespectsQuota runs several limiters over the same
// record and lock paths, standing in for independent processes. No trailing
// window may ever contain more grants than the limit (plus the boundary
// tolerance for in-flight evaluation).
func TestConcurrentAcquireRespectsQuota(t *testing.T) {
	const (
		limit   = 4
		window  = 500 * time.Millisecond
		workers = 8
	)

	dir := t.TempDir()
	statePath := filepath.Join(dir, "window.json")
	lockPath := filepath.Join(dir, "window.json.lock")

	var (
		mu       sync.Mutex
		grants   []time.Time
		firstErr error
	)
	record := func(granted bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if granted {
			grants = append(grants, time.Now())
		}
	}

	var wg sync.WaitGroup
	deadline := time.Now().Add(1200 * time.Millisecond)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter := &Limiter{
				Store:        store.New(statePath),
				Lock:         lock.New(lockPath),
				Limit:        limit,
				Window:       window,
				PollInterval: 5 * time.Millisecond,
				MaxWait:      50 * time.Millisecond,
			}
			for time.Now().Before(deadline) {
				granted, err := limiter.Acquire(context.Background())
				record(granted, err)
				if err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, firstErr)

	require.NotEmpty(t, grants, "contended workers must make progress")

	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	const tolerance = 2
	for i := 0; i+limit+tolerance < len(grants); i++ {
		span := grants[i+limit+tolerance].Sub(grants[i])
		require.Greater(t, span, window,
			"more than %d grants landed inside one window", limit+tolerance)
	}

	final, err := store.New(statePath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(len(grants)), final.Counters.Granted)
}

// TestWarmWindowRegeneratesAtSteadyRate starts from a saturated window, so
// grants are paced by slot expiry: roughly limit*T/window grants can happen
// in T, regardless of how many workers hammer the lock.
func TestWarmWindowRegeneratesAtSteadyRate(t *testing.T) {
	const (
		limit   = 12
		window  = 1200 * time.Millisecond
		runFor  = 600 * time.Millisecond
		workers = 3
	)

	dir := t.TempDir()
	statePath := filepath.Join(dir, "window.json")
	lockPath := filepath.Join(dir, "window.json.lock")

	// Saturate the window with grants spread evenly across it, one slot
	// expiring every window/limit.
	warm := &core.WindowRecord{}
	now := time.Now().UTC()
	for i := 0; i < limit; i++ {
		warm.Timestamps = append(warm.Timestamps,
			now.Add(-time.Duration(i)*(window/limit)))
	}
	require.NoError(t, store.New(statePath).Commit(context.Background(), warm))

	var (
		mu       sync.Mutex
		total    int
		firstErr error
	)

	var wg sync.WaitGroup
	deadline := time.Now().Add(runFor)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter := &Limiter{
				Store:        store.New(statePath),
				Lock:         lock.New(lockPath),
				Limit:        limit,
				Window:       window,
				PollInterval: 20 * time.Millisecond,
				MaxWait:      50 * time.Millisecond,
			}
			for time.Now().Before(deadline) {
				granted, err := limiter.Acquire(context.Background())
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = err
				}
				if granted {
					total++
				}
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, firstErr)

	expected := int(float64(limit) * float64(runFor) / float64(window))
	require.LessOrEqual(t, total, expected+2)
	require.GreaterOrEqual(t, total, 1)
}

// TestPatientWorkerIsNotStarved pits one worker that pauses between
// attempts against aggressive workers that re-acquire continuously.
// Capacity regeneration, not queue order, provides the liveness.
func TestPatientWorkerIsNotStarved(t *testing.T) {
	const (
		limit  = 2
		window = 150 * time.Millisecond
	)

	dir := t.TempDir()
	statePath := filepath.Join(dir, "window.json")
	lockPath := filepath.Join(dir, "window.json.lock")

	newLimiter := func() *Limiter {
		return &Limiter{
			Store:        store.New(statePath),
			Lock:         lock.New(lockPath),
			Limit:        limit,
			Window:       window,
			PollInterval: 5 * time.Millisecond,
			MaxWait:      100 * time.Millisecond,
		}
	}

	deadline := time.Now().Add(900 * time.Millisecond)
	errCh := make(chan error, 3)

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter := newLimiter()
			for time.Now().Before(deadline) {
				if _, err := limiter.Acquire(context.Background()); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	var patientGrants int
	wg.Add(1)
	go func() {
		defer wg.Done()
		limiter := newLimiter()
		for time.Now().Before(deadline) {
			granted, err := limiter.Acquire(context.Background())
			if err != nil {
				errCh <- err
				return
			}
			if granted {
				patientGrants++
			}
			time.Sleep(30 * time.Millisecond)
		}
	}()
	wg.Wait()
	close(errCh)

	require.NoError(t, <-errCh)
	require.GreaterOrEqual(t, patientGrants, 1, "patient worker must not starve")
}
