package models

import (
	"encoding/json"
	"time"
)

// AuditStatus is the outcome recorded for one audited action.
type AuditStatus string

const (
	AuditSuccess    AuditStatus = "success"
	AuditAgentError AuditStatus = "agent_error"
	AuditBlocked    AuditStatus = "blocked"
	AuditInfo       AuditStatus = "info"
)

// Agent names used in audit entries and stage events. LegalGateAgent is the
// name courts will see on warrant determinations, so it never changes.
const (
	AgentIntake     = "IntakeAgent"
	AgentLegalGate  = "LegalGateAgent"
	AgentExtraction = "ExtractionAgent"
	AgentHashOSINT  = "HashOSINTAgent"
	AgentClassifier = "ClassifierAgent"
	AgentLinker     = "LinkerAgent"
	AgentPriority   = "PriorityAgent"
	AgentOrch       = "Orchestrator"
	AgentHuman      = "HumanAction"
	AgentPrecedent  = "PrecedentAdmin"
)

// AuditEntry is one immutable line in a tip's audit trail. Entries are
// append-only; Seq is assigned by the log and orders entries within a tip.
type AuditEntry struct {
	EntryID     string          `json:"entry_id"`
	TipID       string          `json:"tip_id"`
	Agent       string          `json:"agent"`
	Timestamp   time.Time       `json:"timestamp"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	Status      AuditStatus     `json:"status"`
	Summary     string          `json:"summary"`
	ModelUsed   string          `json:"model_used,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	HumanActor  string          `json:"human_actor,omitempty"`
	PrevValue   json.RawMessage `json:"previous_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	Seq         int64           `json:"seq"`
}
