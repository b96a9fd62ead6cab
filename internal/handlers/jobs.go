package handlers

import (
	"net/http"

	"github.com/tipline/backend/internal/ingest"
)

// HandleClusterScan runs one on-demand cluster scan pass and reports what it
// found. The scheduled scanner keeps running on its own interval.
func HandleClusterScan(scanner *ingest.Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := scanner.Run(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
