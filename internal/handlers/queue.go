package handlers

import (
	"net/http"
	"strconv"

	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/store"
)

const (
	defaultQueueLimit = 100
	maxQueueLimit     = 500

	// pendingBucket groups tips that have not finished priority scoring.
	pendingBucket = "PENDING"
)

// HandleQueue serves the triage queue grouped by tier. Pagination totals
// travel in X-Total-Count / X-Limit / X-Offset so the body stays a plain
// tier-to-tips object.
func HandleQueue(repo store.TipRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.ListFilter{Limit: defaultQueueLimit, Unit: q.Get("unit")}
		if s := q.Get("tier"); s != "" {
			tier, ok := parseTier(s)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown tier "+s)
				return
			}
			filter.Tier = tier
		}
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if n > maxQueueLimit {
				n = maxQueueLimit
			}
			filter.Limit = n
		}
		if s := q.Get("offset"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
				return
			}
			filter.Offset = n
		}

		res, err := repo.List(r.Context(), filter)
		if err != nil {
			respondError(w, r, err)
			return
		}

		grouped := queueBuckets()
		for _, tip := range res.Tips {
			b := bucketFor(tip)
			grouped[b] = append(grouped[b], tip)
		}

		w.Header().Set("X-Total-Count", strconv.Itoa(res.Total))
		w.Header().Set("X-Limit", strconv.Itoa(filter.Limit))
		w.Header().Set("X-Offset", strconv.Itoa(filter.Offset))
		writeJSON(w, http.StatusOK, grouped)
	}
}

// queueBuckets seeds every response key up front so dashboards render stable
// columns instead of probing which tiers happen to be present.
func queueBuckets() map[string][]*models.Tip {
	return map[string][]*models.Tip{
		string(models.TierImmediate): {},
		string(models.TierUrgent):    {},
		string(models.TierPaused):    {},
		string(models.TierStandard):  {},
		string(models.TierMonitor):   {},
		pendingBucket:                {},
	}
}

func bucketFor(tip *models.Tip) string {
	if tip.Priority == nil {
		return pendingBucket
	}
	if _, ok := parseTier(string(tip.Priority.Tier)); !ok {
		return pendingBucket
	}
	return string(tip.Priority.Tier)
}

func parseTier(s string) (models.Tier, bool) {
	switch t := models.Tier(s); t {
	case models.TierImmediate, models.TierUrgent, models.TierPaused,
		models.TierStandard, models.TierMonitor:
		return t, true
	default:
		return "", false
	}
}
