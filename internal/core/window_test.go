package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvictRemovesAgedTimestamps(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := &WindowRecord{
		Timestamps: []time.Time{
			now.Add(-90 * time.Second),
			now.Add(-61 * time.Second),
			now.Add(-59 * time.Second),
			now.Add(-time.Second),
		},
	}

	record.Evict(now, time.Minute)

	require.Equal(t, 2, record.Usage())
	require.Equal(t, now.Add(-59*time.Second), record.Timestamps[0])
	require.Equal(t, now.Add(-time.Second), record.Timestamps[1])
}

func TestEvictIsIdempotent(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := &WindowRecord{
		Timestamps: []time.Time{
			now.Add(-2 * time.Minute),
			now.Add(-30 * time.Second),
			now.Add(-10 * time.Second),
		},
	}

	record.Evict(now, time.Minute)
	once := append([]time.Time(nil), record.Timestamps...)

	record.Evict(now, time.Minute)
	require.Equal(t, once, record.Timestamps)
}

func TestEvictDiscardsFutureDatedEntries(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := &WindowRecord{
		Timestamps: []time.Time{
			now.Add(-10 * time.Second),
			now.Add(30 * time.Second),  // plausible skew, kept
			now.Add(2 * time.Hour),     // would never age out
			now.Add(48 * time.Hour),    // would never age out
		},
	}

	record.Evict(now, time.Minute)

	require.Equal(t, 2, record.Usage())
	for _, ts := range record.Timestamps {
		require.True(t, ts.Before(now.Add(time.Minute).Add(time.Nanosecond)))
	}
}

func TestTryAppendHonorsLimit(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := &WindowRecord{}

	require.True(t, record.TryAppend(now, 2))
	require.True(t, record.TryAppend(now.Add(time.Second), 2))
	require.False(t, record.TryAppend(now.Add(2*time.Second), 2))
	require.Equal(t, 2, record.Usage())
}

func TestTryAppendRejectsNonPositiveLimit(t *testing.T) {
	record := &WindowRecord{}
	require.False(t, record.TryAppend(time.Now(), 0))
	require.False(t, record.TryAppend(time.Now(), -1))
	require.Equal(t, 0, record.Usage())
}

func TestUsageOnNilRecord(t *testing.T) {
	var record *WindowRecord
	require.Equal(t, 0, record.Usage())
}
