package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tipline/backend/internal/events"
	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/store"
)

// heartbeatInterval keeps intermediaries from reaping idle SSE connections.
const heartbeatInterval = 25 * time.Second

// HandleStream serves a tip's stage events over SSE. The server closes the
// stream after relaying a terminal event; a tip that already finished gets a
// single synthetic closing frame.
func HandleStream(repo store.TipRepository, bus *events.Bus, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tipID := mux.Vars(r)["id"]

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		// Streams outlive the server write timeout; clear the deadline for
		// this connection. Best effort, recorders do not support it.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		// Subscribe before the terminal check so a completion landing
		// between the two shows up on the channel instead of vanishing.
		ch, cancel := bus.Subscribe(tipID)
		defer cancel()

		tip, err := repo.Get(r.Context(), tipID)
		if err != nil {
			respondError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if m != nil {
			m.StreamClients.Inc()
			defer m.StreamClients.Dec()
		}

		first, _ := json.Marshal(map[string]interface{}{
			"type":      models.StepConnected,
			"tip_id":    tipID,
			"timestamp": time.Now().UTC(),
		})
		fmt.Fprintf(w, "data: %s\n\n", first)
		flusher.Flush()

		if tip.Status != models.StatusPending {
			fmt.Fprint(w, closingFrame(tip).SSEFormat())
			flusher.Flush()
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case ev, open := <-ch:
				if !open {
					return
				}
				fmt.Fprint(w, ev.SSEFormat())
				flusher.Flush()
				if ev.Terminal() {
					return
				}
			}
		}
	}
}

// closingFrame synthesizes the terminal event for a tip whose pipeline run
// ended before this subscriber connected.
func closingFrame(tip *models.Tip) models.StageEvent {
	ev := models.StageEvent{TipID: tip.TipID, Timestamp: time.Now().UTC()}
	switch {
	case tip.Status == models.StatusBlocked:
		ev.Step = models.StepBlocked
		ev.Status = models.EventBlocked
		ev.Detail = "tip is blocked pending legal process"
	case tip.Status == models.StatusDuplicate:
		ev.Step = models.StepComplete
		ev.Status = models.EventDone
		if tip.Links != nil {
			ev.Detail = "duplicate of " + tip.Links.DuplicateOf
		}
	default:
		ev.Step = models.StepComplete
		ev.Status = models.EventDone
		if tip.Priority != nil {
			ev.Detail = string(tip.Priority.Tier)
		}
	}
	return ev
}
