package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pipeline step names carried on stage events.
const (
	StepIntake        = "intake"
	StepWilsonGate    = "wilson_gate"
	StepExtraction    = "extraction"
	StepHashOSINT     = "hash_osint"
	StepClassifier    = "classifier"
	StepLinker        = "linker"
	StepPriority      = "priority"
	StepComplete      = "complete"
	StepBlocked       = "blocked"
	StepWarrantUpdate = "warrant_update"
	StepConnected     = "connected"
)

// Stage event statuses.
const (
	EventRunning = "running"
	EventDone    = "done"
	EventError   = "error"
	EventBlocked = "blocked"
)

// StageEvent is one progress notification on a tip's event stream.
type StageEvent struct {
	TipID     string    `json:"tip_id"`
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Terminal reports whether this event ends the stream for its tip.
func (e StageEvent) Terminal() bool {
	return e.Step == StepComplete || e.Step == StepBlocked
}

// SSEFormat renders the event as a single server-sent-event frame.
func (e StageEvent) SSEFormat() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("data: {\"tip_id\":%q,\"step\":\"error\"}\n\n", e.TipID)
	}
	return fmt.Sprintf("data: %s\n\n", data)
}
