package handlers

import (
	"context"
	"net/http"

	"github.com/ratefence/ratefence/internal/core/engine"
)

// SnapshotFunc reads the current limiter snapshot.
type SnapshotFunc func(ctx context.Context) (*engine.Snapshot, error)

// StatsHandler serves the limiter snapshot. The read is lock-free by
// construction, so scraping this endpoint never delays acquirers.
func StatsHandler(snapshot SnapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := snapshot(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to read limiter state",
			})
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
