package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tipline/backend/internal/store"
)

// HandleHandoff records a forensics handoff for a tip. The guard rules match
// assignment: blocked, duplicate and paused tips refuse with 409.
func HandleHandoff(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tipID := mux.Vars(r)["id"]

		var body struct {
			Tool        string `json:"tool"`
			OfficerID   string `json:"officer_id"`
			OfficerName string `json:"officer_name"`
			Notes       string `json:"notes"`
		}
		if !decodeBody(w, r, &body, false) {
			return
		}
		if strings.TrimSpace(body.Tool) == "" || strings.TrimSpace(body.OfficerID) == "" {
			writeError(w, http.StatusBadRequest, "tool and officer_id are required")
			return
		}

		handoff, err := repo.RecordHandoff(r.Context(), tipID, store.HandoffInput{
			Tool:        body.Tool,
			OfficerID:   body.OfficerID,
			OfficerName: body.OfficerName,
			Notes:       body.Notes,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"handoff": handoff,
		})
	}
}

// HandleListHandoffs returns every handoff recorded for a tip, newest first.
func HandleListHandoffs(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tipID := mux.Vars(r)["id"]

		if _, err := repo.Get(r.Context(), tipID); err != nil {
			respondError(w, r, err)
			return
		}
		handoffs, err := repo.Handoffs(r.Context(), tipID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tip_id":   tipID,
			"handoffs": handoffs,
			"total":    len(handoffs),
		})
	}
}
