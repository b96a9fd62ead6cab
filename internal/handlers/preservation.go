package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tipline/backend/internal/store"
)

// HandleIssuePreservation marks a drafted preservation request as issued.
// The body is optional; an approver may be named for the audit record.
func HandleIssuePreservation(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := mux.Vars(r)["id"]

		var body struct {
			ApprovedBy string `json:"approved_by"`
		}
		if !decodeBody(w, r, &body, true) {
			return
		}

		req, err := repo.IssuePreservation(r.Context(), requestID, body.ApprovedBy)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"request_id": req.RequestID,
			"issued_at":  req.IssuedAt,
		})
	}
}
