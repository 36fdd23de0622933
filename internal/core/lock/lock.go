// Package lock wraps the advisory file lock that serializes access to the
// shared window record across processes.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Mutex is an advisory exclusive lock tied to a well-known path. The lock
// file is a sibling of the data file and is never used to carry data, so
// acquisition failure cannot depend on record content.
//
// TryAcquire is strictly non-blocking: when another process holds the lock
// the caller gets an immediate false and applies its own jittered backoff
// instead of queueing inside the kernel.
type Mutex struct {
	fl *flock.Flock
}

// New returns a mutex for the given lock file path.
func New(path string) *Mutex {
	return &Mutex{fl: flock.New(path)}
}

// Path returns the lock file path.
func (m *Mutex) Path() string {
	if m == nil || m.fl == nil {
		return ""
	}
	return m.fl.Path()
}

// TryAcquire attempts to take the exclusive lock without blocking. A false
// result with nil error means another process holds the lock; that is an
// expected, frequent condition under contention, not a failure.
func (m *Mutex) TryAcquire() (bool, error) {
	if m == nil || m.fl == nil {
		return false, errors.New("lock is not initialized")
	}

	if err := os.MkdirAll(filepath.Dir(m.fl.Path()), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	locked, err := m.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", m.fl.Path(), err)
	}
	return locked, nil
}

// Release drops the lock. It must be called on every path after a
// successful TryAcquire, including error paths, so a dead handle never
// leaves the record locked.
func (m *Mutex) Release() error {
	if m == nil || m.fl == nil {
		return errors.New("lock is not initialized")
	}
	if err := m.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", m.fl.Path(), err)
	}
	return nil
}
