package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/store"
)

// HandleGetTip serves one full tip. The audit trail lives in the audit log,
// not the tip row, so it is hydrated here before the aggregate goes out.
func HandleGetTip(repo store.TipRepository, auditLog audit.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tipID := mux.Vars(r)["id"]

		tip, err := repo.Get(r.Context(), tipID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		trail, err := auditLog.ByTip(r.Context(), tipID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		tip.AuditTrail = trail
		writeJSON(w, http.StatusOK, tip)
	}
}

// HandleAssignTip assigns a tip to an investigator. Blocked, duplicate and
// deconfliction-paused tips refuse assignment with a 409.
func HandleAssignTip(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tipID := mux.Vars(r)["id"]

		var body struct {
			InvestigatorID   string `json:"investigator_id"`
			InvestigatorName string `json:"investigator_name"`
		}
		if !decodeBody(w, r, &body, false) {
			return
		}
		if strings.TrimSpace(body.InvestigatorID) == "" {
			writeError(w, http.StatusBadRequest, "investigator_id is required")
			return
		}

		tip, err := repo.Assign(r.Context(), tipID, body.InvestigatorID, body.InvestigatorName)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"tip_id":      tip.TipID,
			"assigned_to": tip.AssignedTo,
		})
	}
}

// HandleCrisis lists every tip carrying a victim crisis alert, most urgent
// first. Crisis views are never paginated; a supervisor sees all of them.
func HandleCrisis(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := repo.List(r.Context(), store.ListFilter{CrisisOnly: true})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res.Tips)
	}
}

// HandleClusters lists tips the cluster scanner or linker has flagged as part
// of a wider pattern.
func HandleClusters(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := repo.List(r.Context(), store.ListFilter{})
		if err != nil {
			respondError(w, r, err)
			return
		}
		clustered := make([]*models.Tip, 0)
		for _, tip := range res.Tips {
			if tip.Links != nil && len(tip.Links.ClusterFlags) > 0 {
				clustered = append(clustered, tip)
			}
		}
		writeJSON(w, http.StatusOK, clustered)
	}
}
