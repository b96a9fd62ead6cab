package handlers

import (
	"net/http"

	"github.com/tipline/backend/internal/ingest"
	"github.com/tipline/backend/internal/models"
)

// HandleIngest accepts one raw tip. Fresh submissions come back 202 with the
// queued job id; resubmissions of a fingerprint we have already seen come
// back 200 pointing at the canonical tip.
func HandleIngest(svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw models.RawTipInput
		if !decodeBody(w, r, &raw, false) {
			return
		}

		res, err := svc.Submit(r.Context(), raw)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if res.Duplicate {
			writeJSON(w, http.StatusOK, res)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}
