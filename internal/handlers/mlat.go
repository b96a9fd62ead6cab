package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/store"
)

// HandleMLAT assesses foreign-evidence channels for a tip's jurisdictions.
// Drafted on demand; nothing is persisted.
func HandleMLAT(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tip, err := repo.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondError(w, r, err)
			return
		}

		a := legal.AssessMLAT(tip)
		resp := map[string]interface{}{
			"needs_mlat":        a.CrossBorder,
			"interpol_referral": a.InterpolReferral,
			"europol_referral":  a.EuropolReferral,
			"generated_at":      a.GeneratedAt,
		}
		if a.CrossBorder {
			resp["requests"] = a.Countries
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
