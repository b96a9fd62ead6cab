package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/store"
)

// HandleWarrant applies a human warrant action to one file. Unknown statuses
// are rejected before touching the store; repeats of the current status
// return the file unchanged.
func HandleWarrant(repo store.TipRepository, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		tipID, fileID := vars["id"], vars["fileId"]

		var body struct {
			Status        string `json:"status"`
			WarrantNumber string `json:"warrant_number"`
			GrantedBy     string `json:"granted_by"`
			ApprovedBy    string `json:"approved_by"`
		}
		if !decodeBody(w, r, &body, false) {
			return
		}

		change := store.WarrantChange{
			Status:        models.WarrantStatus(body.Status),
			WarrantNumber: body.WarrantNumber,
			GrantedBy:     body.GrantedBy,
			ApprovedBy:    body.ApprovedBy,
		}
		file, err := repo.UpdateFileWarrant(r.Context(), tipID, fileID, change)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if m != nil {
			m.WarrantUpdates.Inc()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"file":    file,
		})
	}
}
