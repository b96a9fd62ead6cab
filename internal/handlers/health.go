package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tipline/backend/internal/config"
)

// Resettable is implemented by the in-memory backends that the test reset
// endpoint clears between scenarios.
type Resettable interface {
	Reset()
}

// HandleHealth reports liveness plus the mode flags an operator needs to see
// at a glance.
func HandleHealth(cfg *config.Config, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"db_mode":    cfg.Database.Mode,
			"queue_mode": cfg.Queue.Mode,
			"tool_mode":  cfg.Oracle.ToolMode,
			"demo_mode":  cfg.Pipeline.DemoMode,
			"uptime_s":   int64(time.Since(startedAt).Seconds()),
		})
	}
}

// HandleTestReset clears in-memory state between test scenarios. Outside the
// test environment the route pretends not to exist.
func HandleTestReset(cfg *config.Config, resets []Resettable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.IsTest() {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		for _, res := range resets {
			res.Reset()
		}
		slog.Info("test state reset", "targets", len(resets))
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	}
}
