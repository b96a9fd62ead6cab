// Package priority turns a fully enriched tip into a queue position. The
// scoring is deterministic: the same tip state always produces the same
// score, tier, and factor list, so a supervisor can reconstruct any routing
// decision from the audit trail. Model output never reaches this package.
package priority

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/models"
)

// Routing units an assessment can land on. Tier decides urgency; the unit
// decides which desk works the tip.
const (
	UnitICAC       = "icac_task_force"
	UnitSupervisor = "supervisor"
	UnitFederal    = "jttf_federal"
	UnitSpecialty  = "specialty_unit"
)

// Signal weights. Integers on a 0-100 scale; each applied weight is echoed
// into scoring_factors so the score can be re-derived by hand.
const (
	weightCrisis        = 40
	weightKnownCSAM     = 25
	weightMinorInvolved = 20
	weightOngoingAbuse  = 15
	weightVictimSeries  = 10
	weightAIGInvolved   = 10
	weightNovelMaterial = 8
	weightUrgentFlag    = 5
	weightBundled       = 5
	weightInternational = 5

	uncertaintyDiscount = -10
	uncertaintyFloor    = 0.6

	csamMinorScoreFloor = 95
	bundledThreshold    = 3
)

// Tier cutoffs applied to the clamped score before overrides.
const (
	cutoffImmediate = 85
	cutoffUrgent    = 65
	cutoffStandard  = 40
)

var offenseWeights = map[models.OffenseCategory]int{
	models.OffenseCSAM:        15,
	models.OffenseTrafficking: 15,
	models.OffenseSextortion:  10,
	models.OffenseGrooming:    8,
	models.OffenseOther:       0,
}

var severityWeights = map[models.Severity]int{
	models.SeverityP1Critical: 20,
	models.SeverityP2High:     12,
	models.SeverityP3Medium:   6,
	models.SeverityP4Low:      0,
}

// Assessment is the engine's full output for one tip.
type Assessment struct {
	Priority     *models.Priority
	Preservation []models.PreservationRequest
}

// Engine computes priority assessments and preservation drafts.
type Engine struct {
	retention *legal.RetentionTable
	logger    *log.Logger
}

// NewEngine builds an engine over the given retention table. A nil table
// falls back to the built-in ESP defaults.
func NewEngine(retention *legal.RetentionTable) *Engine {
	if retention == nil {
		retention = legal.NewRetentionTable(nil)
	}
	return &Engine{
		retention: retention,
		logger:    log.New(log.Writer(), "[PriorityEngine] ", log.LstdFlags),
	}
}

// Assess scores a tip and resolves its tier, routing unit, alerts, and
// auto-generated preservation drafts.
//
// Override precedence, strongest last:
//  1. ongoing abuse or AI-generated CSAM floors the tier at URGENT
//  2. confirmed CSAM with a minor forces IMMEDIATE and clamps the score
//  3. a victim in crisis forces IMMEDIATE and alerts the supervisor
//  4. an active deconfliction match forces PAUSED no matter what; crisis
//     alerts stay set so the pause is loud, not silent
func (e *Engine) Assess(tip *models.Tip) Assessment {
	score, factors := e.baseScore(tip)
	tier := tierFromScore(score)

	crisis := CrisisDetected(tip)
	csamMinor := csamWithMinor(tip)
	ongoing := ongoingAbuse(tip)
	aigCSAM := aigGeneratedCSAM(tip)
	deconflicted, deconflictionHit := activeDeconfliction(tip)

	if ongoing && models.TierRank(tier) > models.TierRank(models.TierUrgent) {
		tier = models.TierUrgent
		factors = append(factors, "ongoing abuse reported; tier floored at URGENT")
	}
	if aigCSAM && models.TierRank(tier) > models.TierRank(models.TierUrgent) {
		tier = models.TierUrgent
		factors = append(factors, "AI-generated CSAM; tier floored at URGENT")
	}
	if csamMinor {
		tier = models.TierImmediate
		if score < csamMinorScoreFloor {
			score = csamMinorScoreFloor
		}
		factors = append(factors, "confirmed CSAM involving a minor; IMMEDIATE override")
	}
	if crisis {
		tier = models.TierImmediate
		factors = append(factors, "victim crisis indicators present; IMMEDIATE override")
	}
	if deconflicted {
		tier = models.TierPaused
		factors = append(factors, fmt.Sprintf(
			"active investigation match: %s case %s; triage paused",
			deconflictionHit.Agency, deconflictionHit.CaseRef))
	}

	supervisorAlert := crisis || csamMinor || deconflicted
	unit := routingUnit(tip, deconflicted)

	p := &models.Priority{
		Score:             score,
		Tier:              tier,
		ScoringFactors:    factors,
		RoutingUnit:       unit,
		RecommendedAction: recommendedAction(tier, crisis, deconflictionHit),
		SupervisorAlert:   supervisorAlert,
		VictimCrisisAlert: crisis,
	}

	drafts := e.preservationDrafts(tip)
	if len(drafts) > 0 {
		e.logger.Printf("tip %s: drafted %d preservation request(s)", tip.TipID, len(drafts))
	}
	return Assessment{Priority: p, Preservation: drafts}
}

// SafeDefault is the assessment used when the scoring oracle is unreachable.
// The tip stays out of the triaged queue and a supervisor is alerted; crisis
// detection is deterministic, so a crisis tip still escalates even here.
func (e *Engine) SafeDefault(tip *models.Tip, reason string) *models.Priority {
	crisis := CrisisDetected(tip)
	tier := models.TierPaused
	if crisis {
		tier = models.TierImmediate
	}
	factors := []string{
		fmt.Sprintf("priority oracle unavailable; safe default applied: %s", reason),
		"held for manual supervisor review",
	}
	if crisis {
		factors = append(factors, "victim crisis indicators present; IMMEDIATE override")
	}
	return &models.Priority{
		Score:             0,
		Tier:              tier,
		ScoringFactors:    factors,
		RoutingUnit:       UnitSupervisor,
		RecommendedAction: "Hold for manual supervisor triage; automated prioritization was unavailable for this tip.",
		SupervisorAlert:   true,
		VictimCrisisAlert: crisis,
	}
}

func (e *Engine) baseScore(tip *models.Tip) (int, []string) {
	var score int
	var factors []string
	add := func(weight int, label string) {
		if weight == 0 {
			return
		}
		score += weight
		factors = append(factors, fmt.Sprintf("%s (%+d)", label, weight))
	}

	if CrisisDetected(tip) {
		add(weightCrisis, "victim at immediate risk")
	}
	if tip.HashMatches != nil && tip.HashMatches.AnyKnownCSAM {
		add(weightKnownCSAM, "known CSAM hash match")
	}
	if tip.HashMatches != nil && tip.HashMatches.AnyNovel {
		add(weightNovelMaterial, "novel material, possible unidentified victim")
	}
	if c := tip.Classification; c != nil {
		if w, ok := offenseWeights[c.OffenseCategory]; ok {
			add(w, fmt.Sprintf("offense category %s", c.OffenseCategory))
		}
		if w, ok := severityWeights[c.Severity]; ok {
			add(w, fmt.Sprintf("severity %s", c.Severity))
		}
		if c.MinorInvolved {
			add(weightMinorInvolved, "minor involved")
		}
		if c.AIGInvolved {
			add(weightAIGInvolved, "AI-generated content indicators")
		}
		if c.Confidence > 0 && c.Confidence < uncertaintyFloor {
			add(uncertaintyDiscount, fmt.Sprintf("classifier confidence %.2f below %.2f", c.Confidence, uncertaintyFloor))
		}
	} else {
		factors = append(factors, "classification unavailable; offense signals not scored")
	}
	if ongoingAbuse(tip) {
		add(weightOngoingAbuse, "ongoing abuse reported")
	}
	if anyKnownVictimSeries(tip) {
		add(weightVictimSeries, "known victim series match")
	}
	if tip.UrgentFlag {
		add(weightUrgentFlag, "reporter urgent flag")
	}
	if tip.IsBundled && tip.BundledIncidentCount >= bundledThreshold {
		add(weightBundled, fmt.Sprintf("bundle of %d incidents", tip.BundledIncidentCount))
	}
	if international(tip) {
		add(weightInternational, "cross-border jurisdiction")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, factors
}

func tierFromScore(score int) models.Tier {
	switch {
	case score >= cutoffImmediate:
		return models.TierImmediate
	case score >= cutoffUrgent:
		return models.TierUrgent
	case score >= cutoffStandard:
		return models.TierStandard
	default:
		return models.TierMonitor
	}
}

func routingUnit(tip *models.Tip, deconflicted bool) string {
	switch {
	case deconflicted:
		return UnitSupervisor
	case international(tip):
		return UnitFederal
	case tip.Classification != nil && tip.Classification.OffenseCategory == models.OffenseTrafficking:
		return UnitSpecialty
	default:
		return UnitICAC
	}
}

func recommendedAction(tier models.Tier, crisis bool, hit *models.DeconflictionHit) string {
	if tier == models.TierPaused && hit != nil {
		return fmt.Sprintf(
			"Pause all investigative contact and coordinate with %s (case %s) before proceeding.",
			hit.Agency, hit.CaseRef)
	}
	switch tier {
	case models.TierImmediate:
		if crisis {
			return "Dispatch crisis response now; a child may be in immediate danger. Notify the supervisor and pursue an emergency disclosure request with the ESP."
		}
		return "Assign an investigator immediately and begin warrant applications for any blocked files."
	case models.TierUrgent:
		return "Assign within 24 hours and issue the drafted preservation requests before ESP retention expires."
	case models.TierStandard:
		return "Queue for the standard ICAC triage rotation."
	default:
		return "Hold in the monitoring pool; re-evaluate if a cluster scan links new reports to this tip."
	}
}

// preservationDrafts builds one draft §2703(f) request per identified ESP
// with a finite retention window. Drafts stay inert until a human issues
// them; the deadline is the end of the provider's retention window counted
// from when the tip arrived.
func (e *Engine) preservationDrafts(tip *models.Tip) []models.PreservationRequest {
	seen := make(map[string]bool)
	var names []string
	addESP := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		names = append(names, strings.TrimSpace(name))
	}

	if tip.Reporter.ESPName != "" {
		addESP(tip.Reporter.ESPName)
	}
	if tip.Entities != nil {
		for _, p := range tip.Entities.Platforms {
			addESP(p)
		}
	}
	sort.Strings(names)

	var accounts []string
	if tip.Entities != nil {
		accounts = append(accounts, tip.Entities.Usernames...)
	}

	var drafts []models.PreservationRequest
	for _, name := range names {
		days := e.retention.Days(name)
		if days <= 0 {
			continue
		}
		deadline := tip.ReceivedAt.Add(time.Duration(days) * 24 * time.Hour)
		drafts = append(drafts, models.PreservationRequest{
			RequestID:          uuid.New().String(),
			TipID:              tip.TipID,
			ESPName:            name,
			AccountIdentifiers: append([]string(nil), accounts...),
			LegalBasis:         "18 U.S.C. § 2703(f)",
			Jurisdiction:       tip.Jurisdiction.Primary,
			AutoGenerated:      true,
			RetentionDays:      days,
			Deadline:           deadline,
			Status:             models.PreservationDraft,
			LetterText: fmt.Sprintf(
				"Pursuant to 18 U.S.C. § 2703(f), you are requested to preserve all records associated with the identifiers referenced in tip %s for a period of 90 days pending legal process. Provider retention window ends %s.",
				tip.TipID, deadline.Format("2006-01-02")),
		})
	}
	return drafts
}

// ============================================================================
// Deterministic signal extraction
// ============================================================================

// CrisisDetected reports whether the extraction stage surfaced a victim in
// immediate danger. Used by the pipeline as well, so a crisis escalates even
// when later stages fail.
func CrisisDetected(tip *models.Tip) bool {
	if tip == nil || tip.Entities == nil {
		return false
	}
	if len(tip.Entities.CrisisIndicators) > 0 {
		return true
	}
	for _, v := range tip.Entities.Victims {
		if v.AtImmediateRisk {
			return true
		}
	}
	return false
}

func csamWithMinor(tip *models.Tip) bool {
	c := tip.Classification
	return c != nil && c.OffenseCategory == models.OffenseCSAM && c.MinorInvolved
}

func aigGeneratedCSAM(tip *models.Tip) bool {
	c := tip.Classification
	return c != nil && c.OffenseCategory == models.OffenseCSAM && c.AIGInvolved
}

func ongoingAbuse(tip *models.Tip) bool {
	return tip.Entities != nil && tip.Entities.OngoingAbuse
}

func anyKnownVictimSeries(tip *models.Tip) bool {
	for _, f := range tip.Files {
		if f.KnownVictimSeries {
			return true
		}
	}
	return false
}

func international(tip *models.Tip) bool {
	j := tip.Jurisdiction
	if j.InterpolReferral || j.EuropolReferral {
		return true
	}
	for _, c := range j.Countries {
		switch strings.ToUpper(strings.TrimSpace(c)) {
		case "", "US", "USA", "UNITED STATES":
			continue
		default:
			return true
		}
	}
	return false
}

func activeDeconfliction(tip *models.Tip) (bool, *models.DeconflictionHit) {
	if tip.Links == nil {
		return false, nil
	}
	for i := range tip.Links.Deconfliction {
		if tip.Links.Deconfliction[i].ActiveInvestigation {
			return true, &tip.Links.Deconfliction[i]
		}
	}
	return false, nil
}
