package models

// ============================================================================
// Enrichment payloads written by pipeline stages
// ============================================================================

// VictimIndicator is one suspected victim surfaced by extraction.
type VictimIndicator struct {
	AgeRange        string `json:"age_range,omitempty"`
	AtImmediateRisk bool   `json:"at_immediate_risk"`
	Detail          string `json:"detail,omitempty"`
}

// SubjectIndicator is one suspected offender surfaced by extraction.
type SubjectIndicator struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// ExtractedEntities is the structured output of the extraction stage.
type ExtractedEntities struct {
	Victims          []VictimIndicator  `json:"victims,omitempty"`
	Subjects         []SubjectIndicator `json:"subjects,omitempty"`
	Usernames        []string           `json:"usernames,omitempty"`
	IPAddresses      []string           `json:"ip_addresses,omitempty"`
	Platforms        []string           `json:"platforms,omitempty"`
	Locations        []string           `json:"locations,omitempty"`
	OngoingAbuse     bool               `json:"ongoing_abuse"`
	CrisisIndicators []string           `json:"crisis_indicators,omitempty"`
	Summary          string             `json:"summary,omitempty"`
}

func (e ExtractedEntities) clone() ExtractedEntities {
	cp := e
	cp.Victims = append([]VictimIndicator(nil), e.Victims...)
	cp.Subjects = append([]SubjectIndicator(nil), e.Subjects...)
	cp.Usernames = append([]string(nil), e.Usernames...)
	cp.IPAddresses = append([]string(nil), e.IPAddresses...)
	cp.Platforms = append([]string(nil), e.Platforms...)
	cp.Locations = append([]string(nil), e.Locations...)
	cp.CrisisIndicators = append([]string(nil), e.CrisisIndicators...)
	return cp
}

// FileMatchResult is the hash-database verdict for one file. Field names
// mirror the TipFile flags so end-of-pipeline folding is one-to-one.
type FileMatchResult struct {
	FileID            string   `json:"file_id"`
	NCMECMatch        bool     `json:"ncmec_hash_match"`
	ProjectVICMatch   bool     `json:"project_vic_match"`
	IWFMatch          bool     `json:"iwf_match"`
	InterpolMatch     bool     `json:"interpol_icse_match"`
	KnownVictimSeries bool     `json:"known_victim_series"`
	NovelMaterial     bool     `json:"novel_material"`
	AIGConfidence     float64  `json:"aig_detection_confidence"`
	MatchedDatabases  []string `json:"matched_databases,omitempty"`
}

// AnyMatch reports whether any watchlist database matched.
func (r FileMatchResult) AnyMatch() bool {
	return r.NCMECMatch || r.ProjectVICMatch || r.IWFMatch || r.InterpolMatch
}

// HashMatches is the output of the hash and OSINT stage.
type HashMatches struct {
	PerFile      map[string]FileMatchResult `json:"per_file,omitempty"`
	AnyKnownCSAM bool                       `json:"any_known_csam"`
	AnyNovel     bool                       `json:"any_novel"`
	OSINTSummary string                     `json:"osint_summary,omitempty"`
}

func (h HashMatches) clone() HashMatches {
	cp := h
	if h.PerFile != nil {
		cp.PerFile = make(map[string]FileMatchResult, len(h.PerFile))
		for k, v := range h.PerFile {
			v.MatchedDatabases = append([]string(nil), v.MatchedDatabases...)
			cp.PerFile[k] = v
		}
	}
	return cp
}

// OffenseCategory is the classifier's top-level label.
type OffenseCategory string

const (
	OffenseCSAM        OffenseCategory = "csam"
	OffenseGrooming    OffenseCategory = "grooming"
	OffenseSextortion  OffenseCategory = "sextortion"
	OffenseTrafficking OffenseCategory = "trafficking"
	OffenseOther       OffenseCategory = "other"
)

// Severity follows the US ICAC P1..P4 banding.
type Severity string

const (
	SeverityP1Critical Severity = "P1_CRITICAL"
	SeverityP2High     Severity = "P2_HIGH"
	SeverityP3Medium   Severity = "P3_MEDIUM"
	SeverityP4Low      Severity = "P4_LOW"
)

// Classification is the output of the classifier stage.
type Classification struct {
	OffenseCategory OffenseCategory `json:"offense_category"`
	Severity        Severity        `json:"severity"`
	Confidence      float64         `json:"confidence"`
	Rationale       string          `json:"rationale,omitempty"`
	MinorInvolved   bool            `json:"minor_involved"`
	AIGInvolved     bool            `json:"aig_involved"`
}

// DeconflictionHit records an overlap with another agency's open case.
type DeconflictionHit struct {
	Agency              string `json:"agency"`
	CaseRef             string `json:"case_ref"`
	ActiveInvestigation bool   `json:"active_investigation"`
	MatchedOn           string `json:"matched_on"`
}

// Links is the output of the linker stage plus dedup bookkeeping.
type Links struct {
	DuplicateOf   string             `json:"duplicate_of,omitempty"`
	RelatedTips   []string           `json:"related_tips,omitempty"`
	Deconfliction []DeconflictionHit `json:"deconfliction,omitempty"`
	ClusterFlags  []string           `json:"cluster_flags,omitempty"`
}

func (l Links) clone() Links {
	cp := l
	cp.RelatedTips = append([]string(nil), l.RelatedTips...)
	cp.Deconfliction = append([]DeconflictionHit(nil), l.Deconfliction...)
	cp.ClusterFlags = append([]string(nil), l.ClusterFlags...)
	return cp
}

// HasActiveDeconfliction reports whether any linked case is an active
// investigation at another agency. Active hits force the PAUSED tier.
func (l *Links) HasActiveDeconfliction() bool {
	if l == nil {
		return false
	}
	for _, d := range l.Deconfliction {
		if d.ActiveInvestigation {
			return true
		}
	}
	return false
}

// Priority is the final scoring output.
type Priority struct {
	Score             int      `json:"score"`
	Tier              Tier     `json:"tier"`
	ScoringFactors    []string `json:"scoring_factors,omitempty"`
	RoutingUnit       string   `json:"routing_unit,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
	SupervisorAlert   bool     `json:"supervisor_alert"`
	VictimCrisisAlert bool     `json:"victim_crisis_alert"`
}

func (p Priority) clone() Priority {
	cp := p
	cp.ScoringFactors = append([]string(nil), p.ScoringFactors...)
	return cp
}

// LegalStatus is the Wilson gate's tip-level summary.
type LegalStatus struct {
	WarrantRequiredFiles []string `json:"warrant_required_files,omitempty"`
	AllWarrantsResolved  bool     `json:"all_warrants_resolved"`
	AnyFilesAccessible   bool     `json:"any_files_accessible"`
	LegalNote            string   `json:"legal_note,omitempty"`
	RelevantCircuit      string   `json:"relevant_circuit,omitempty"`
	// ExigentCircumstancesClaimed is recorded for the audit trail but the
	// pipeline never claims exigency on its own. Always false.
	ExigentCircumstancesClaimed bool    `json:"exigent_circumstances_claimed"`
	ExigentPossible             bool    `json:"exigent_possible,omitempty"`
	Confidence                  float64 `json:"confidence"`
}

func (ls LegalStatus) clone() LegalStatus {
	cp := ls
	cp.WarrantRequiredFiles = append([]string(nil), ls.WarrantRequiredFiles...)
	return cp
}
