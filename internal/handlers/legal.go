package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/models"
)

var validatePrecedent = validator.New()

// HandleCircuitLookup returns the controlling file-access rule for a state's
// circuit plus that circuit's precedent history.
func HandleCircuitLookup(ref *legal.Reference) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := mux.Vars(r)["state"]
		circuit := legal.ResolveCircuit(state)
		rule := ref.RuleFor(circuit)

		history := make([]legal.PrecedentUpdate, 0)
		for _, u := range ref.Updates() {
			if u.Circuit == circuit {
				history = append(history, u)
			}
		}

		resp := map[string]interface{}{
			"state":             state,
			"circuit":           circuit,
			"summary":           rule.FileAccessStandardText,
			"application":       rule.Application,
			"precedent_history": history,
		}
		if rule.BindingPrecedent != "" {
			resp["binding_precedent"] = rule.BindingPrecedent
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleListPrecedents returns the full precedent update log, newest first.
func HandleListPrecedents(ref *legal.Reference) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updates := ref.Updates()
		var lastUpdated time.Time
		if len(updates) > 0 {
			lastUpdated = updates[0].EnteredAt
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"last_updated": lastUpdated,
			"precedents":   updates,
		})
	}
}

type precedentBody struct {
	Circuit  string `json:"circuit" validate:"required"`
	CaseName string `json:"case_name" validate:"required"`
	Citation string `json:"citation"`
	Effect   string `json:"effect" validate:"required,oneof=now_binding affirmed limited reversed"`
	Summary  string `json:"summary"`
	AddedBy  string `json:"added_by"`
	Date     string `json:"date"`
}

// HandleAddPrecedent appends a precedent decision entered by legal staff. A
// now_binding effect flips the circuit's rule for every evaluation after
// this call; the action itself lands in the audit log.
func HandleAddPrecedent(ref *legal.Reference, auditLog audit.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body precedentBody
		if !decodeBody(w, r, &body, false) {
			return
		}
		if err := validatePrecedent.Struct(body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		update := legal.PrecedentUpdate{
			Circuit:   body.Circuit,
			CaseName:  body.CaseName,
			Citation:  body.Citation,
			Holding:   body.Summary,
			Effect:    legal.Effect(body.Effect),
			EnteredBy: body.AddedBy,
		}
		if body.Date != "" {
			t, err := parseDate(body.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "date must be RFC 3339 or YYYY-MM-DD")
				return
			}
			update.EnteredAt = t
		}

		recorded, err := ref.RecordUpdate(r.Context(), update)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		entry := audit.NewEntry("", models.AgentPrecedent, models.AuditSuccess,
			"precedent recorded: "+recorded.CaseName+" ("+recorded.Circuit+" Cir., "+string(recorded.Effect)+")")
		entry.HumanActor = recorded.EnteredBy
		if err := auditLog.Append(r.Context(), entry); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":                    true,
			"circuit_rules_updated": recorded.Effect == legal.EffectNowBinding,
			"total":                 len(ref.Updates()),
		})
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
