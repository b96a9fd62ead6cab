package models

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Core tip domain model
// ============================================================================

// Source identifies the adapter a tip entered through.
type Source string

const (
	SourcePartnerPortal Source = "partner-portal"
	SourcePartnerAPI    Source = "partner-api"
	SourceEmail         Source = "email"
	SourceInterAgency   Source = "inter-agency"
	SourcePublicWebForm Source = "public-web-form"
)

// ContentType describes the raw payload format of a submission.
type ContentType string

const (
	ContentJSON    ContentType = "json"
	ContentXML     ContentType = "xml"
	ContentPDFText ContentType = "pdf_text"
	ContentEmail   ContentType = "email"
	ContentText    ContentType = "text"
)

// TipStatus tracks a tip through its lifecycle.
type TipStatus string

const (
	StatusPending     TipStatus = "pending"
	StatusTriaged     TipStatus = "triaged"
	StatusAssigned    TipStatus = "assigned"
	StatusClosed      TipStatus = "closed"
	StatusReferredOut TipStatus = "referred-out"
	StatusDuplicate   TipStatus = "duplicate"
	StatusBlocked     TipStatus = "BLOCKED"
)

// Tier is the final routing band assigned by priority scoring.
type Tier string

const (
	TierImmediate Tier = "IMMEDIATE"
	TierUrgent    Tier = "URGENT"
	TierPaused    Tier = "PAUSED"
	TierStandard  Tier = "STANDARD"
	TierMonitor   Tier = "MONITOR"
)

// TierRank orders tiers for queue sorting. Lower is more urgent.
func TierRank(t Tier) int {
	switch t {
	case TierImmediate:
		return 0
	case TierUrgent:
		return 1
	case TierPaused:
		return 2
	case TierStandard:
		return 3
	case TierMonitor:
		return 4
	default:
		return 5
	}
}

// ReporterType distinguishes ESP-originated reports from public ones.
type ReporterType string

const (
	ReporterESP    ReporterType = "esp"
	ReporterNCMEC  ReporterType = "ncmec"
	ReporterAgency ReporterType = "partner-agency"
	ReporterPublic ReporterType = "public"
)

// Reporter captures who filed the original report.
type Reporter struct {
	Type    ReporterType `json:"type"`
	ESPName string       `json:"esp_name,omitempty"`
	Country string       `json:"country,omitempty"`
}

// Primary jurisdiction labels.
const (
	JurisdictionFederal       = "US-federal"
	JurisdictionState         = "US-state"
	JurisdictionLocal         = "US-local"
	JurisdictionInternational = "international-other"
	JurisdictionUnknown       = "unknown"
)

// Jurisdiction describes where a tip is venued and any cross-border reach.
type Jurisdiction struct {
	Primary          string   `json:"primary"`
	State            string   `json:"state,omitempty"`
	Countries        []string `json:"countries,omitempty"`
	InterpolReferral bool     `json:"interpol_referral,omitempty"`
	EuropolReferral  bool     `json:"europol_referral,omitempty"`
}

// Tip is the aggregate triage record. Enrichment fields start nil and are
// filled in as pipeline stages complete.
type Tip struct {
	TipID          string      `json:"tip_id"`
	Source         Source      `json:"source"`
	ReceivedAt     time.Time   `json:"received_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Status         TipStatus   `json:"status"`
	RawContent     string      `json:"raw_content"`
	NormalizedBody string      `json:"normalized_body,omitempty"`
	ContentType    ContentType `json:"content_type"`
	Fingerprint    string      `json:"fingerprint"`

	NCMECNumber          string   `json:"ncmec_number,omitempty"`
	CaseNumber           string   `json:"case_number,omitempty"`
	Reporter             Reporter `json:"reporter"`
	UrgentFlag           bool     `json:"urgent_flag"`
	IsBundled            bool     `json:"is_bundled"`
	BundledIncidentCount int      `json:"bundled_incident_count,omitempty"`

	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Files        []TipFile    `json:"files"`
	Preservation []PreservationRequest `json:"preservation_requests,omitempty"`

	Entities       *ExtractedEntities `json:"extracted_entities,omitempty"`
	HashMatches    *HashMatches       `json:"hash_matches,omitempty"`
	Classification *Classification    `json:"classification,omitempty"`
	Links          *Links             `json:"links,omitempty"`
	Priority       *Priority          `json:"priority,omitempty"`
	LegalStatus    *LegalStatus       `json:"legal_status,omitempty"`

	AssignedTo string       `json:"assigned_to,omitempty"`
	AuditTrail []AuditEntry `json:"audit_trail,omitempty"`
}

// Clone deep-copies a tip so snapshot reads never alias store memory.
func (t *Tip) Clone() *Tip {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Files = append([]TipFile(nil), t.Files...)
	cp.Preservation = append([]PreservationRequest(nil), t.Preservation...)
	cp.AuditTrail = append([]AuditEntry(nil), t.AuditTrail...)
	if t.Jurisdiction.Countries != nil {
		cp.Jurisdiction.Countries = append([]string(nil), t.Jurisdiction.Countries...)
	}
	if t.Entities != nil {
		e := t.Entities.clone()
		cp.Entities = &e
	}
	if t.HashMatches != nil {
		h := t.HashMatches.clone()
		cp.HashMatches = &h
	}
	if t.Classification != nil {
		c := *t.Classification
		cp.Classification = &c
	}
	if t.Links != nil {
		l := t.Links.clone()
		cp.Links = &l
	}
	if t.Priority != nil {
		p := t.Priority.clone()
		cp.Priority = &p
	}
	if t.LegalStatus != nil {
		ls := t.LegalStatus.clone()
		cp.LegalStatus = &ls
	}
	return &cp
}

// FileByID returns a pointer into the tip's Files slice, or nil.
func (t *Tip) FileByID(fileID string) *TipFile {
	for i := range t.Files {
		if t.Files[i].FileID == fileID {
			return &t.Files[i]
		}
	}
	return nil
}

// AccessibleFileCount counts files an analyst may open right now.
func (t *Tip) AccessibleFileCount() int {
	n := 0
	for i := range t.Files {
		if !t.Files[i].FileAccessBlocked {
			n++
		}
	}
	return n
}

// ForensicsHandoff is the package recorded when a triaged tip leaves the
// system for a forensics unit. Snapshot freezes the aggregate as handed off.
type ForensicsHandoff struct {
	HandoffID   string          `json:"handoff_id"`
	TipID       string          `json:"tip_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Tool        string          `json:"tool"`
	OfficerID   string          `json:"officer_id"`
	OfficerName string          `json:"officer_name,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Tier        Tier            `json:"tier"`
	Snapshot    json.RawMessage `json:"snapshot"`
}
