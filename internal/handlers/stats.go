package handlers

import (
	"net/http"

	"github.com/tipline/backend/internal/ingest"
	"github.com/tipline/backend/internal/store"
)

// HandleStats reports queue depth and tip aggregates in one call.
func HandleStats(repo store.TipRepository, q ingest.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tips, err := repo.Stats(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"queue": q.Stats(),
			"tips":  tips,
		})
	}
}

// HandleBundleStats reports dedup and bundling aggregates.
func HandleBundleStats(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := repo.BundleStats(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
