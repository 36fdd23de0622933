package core

import "time"

// WindowRecord is the durable shared state: the timestamps of grants issued
// within the trailing window, plus lifetime counters kept for diagnostics.
// One record is shared by every cooperating process through the filesystem.
type WindowRecord struct {
	Timestamps []time.Time `json:"timestamps"`
	Counters   Counters    `json:"counters"`
}

// Counters aggregates grant activity across all processes sharing the record.
type Counters struct {
	Granted       int64 `json:"granted"`
	CapacityWaits int64 `json:"capacity_waits"`
	Timeouts      int64 `json:"timeouts"`
}

// Usage returns the number of grants currently inside the window.
func (r *WindowRecord) Usage() int {
	if r == nil {
		return 0
	}
	return len(r.Timestamps)
}

// Evict removes timestamps that have aged out of the trailing window.
// Entries dated further than one window into the future are discarded as
// well; they can only come from clock skew and would otherwise never age
// out. Evict is pure with respect to the filesystem and idempotent: calling
// it twice with the same now yields the same record.
func (r *WindowRecord) Evict(now time.Time, window time.Duration) {
	if r == nil || len(r.Timestamps) == 0 {
		return
	}

	cutoff := now.Add(-window)
	horizon := now.Add(window)

	valid := r.Timestamps[:0]
	for _, ts := range r.Timestamps {
		if ts.After(cutoff) && !ts.After(horizon) {
			valid = append(valid, ts)
		}
	}
	r.Timestamps = valid
}

// TryAppend records a grant at now when the window has capacity. It reports
// false, without mutating the record, when usage has reached limit. Callers
// must Evict first so vacated slots are visible.
func (r *WindowRecord) TryAppend(now time.Time, limit int) bool {
	if r == nil || limit <= 0 {
		return false
	}
	if len(r.Timestamps) >= limit {
		return false
	}
	r.Timestamps = append(r.Timestamps, now)
	return true
}
