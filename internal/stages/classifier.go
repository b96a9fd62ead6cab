package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
)

// LowConfidenceFloor is the classifier confidence below which a tip is held
// in pending for supervisor review instead of being auto-triaged.
const LowConfidenceFloor = 0.5

const classifierSystem = `You classify law-enforcement tips into offense categories.
Categories: csam, grooming, sextortion, trafficking, other.
Severity bands (US ICAC): P1_CRITICAL, P2_HIGH, P3_MEDIUM, P4_LOW.
Weigh the narrative together with the structured evidence lines provided.
Respond with a JSON object:
{"offense_category": string, "severity": string, "confidence": number,
 "rationale": string, "minor_involved": boolean, "aig_involved": boolean}`

// Classifier assigns the offense category and severity band. It runs on the
// high oracle band and enforces the child-safety floor over its own output.
type Classifier struct {
	harness *agent.Harness
}

// NewClassifier wires the classifier stage.
func NewClassifier(h *agent.Harness) *Classifier {
	return &Classifier{harness: h}
}

// Run classifies the tip. Entities and hash verdicts from the earlier
// stages, when present, are passed as structured context lines.
func (s *Classifier) Run(ctx context.Context, tip *models.Tip) (*models.Classification, error) {
	var out models.Classification
	_, err := s.harness.InvokeJSON(ctx, tip.TipID, agent.InvokeRequest{
		Agent:     models.AgentClassifier,
		Stage:     models.StepClassifier,
		Band:      oracle.BandHigh,
		MaxTokens: 400,
		System:    classifierSystem,
		Context:   classifierContext(tip),
		Untrusted: tip.RawContent,
	}, &out)
	if err != nil {
		return nil, err
	}
	if err := validateClassification(out); err != nil {
		return nil, err
	}
	out.Confidence = clamp01(out.Confidence)
	ApplyChildSafetyFloor(&out, tip.Entities)
	return &out, nil
}

// classifierContext renders the evidence the earlier stages produced. Only
// structured fields go on trusted lines; free text from the narrative stays
// inside the untrusted wrapper.
func classifierContext(tip *models.Tip) string {
	lines := []string{
		fmt.Sprintf("source: %s", tip.Source),
		fmt.Sprintf("files_attached: %d", len(tip.Files)),
	}
	if tip.HashMatches != nil {
		if n := matchedVerdicts(tip.HashMatches); n > 0 {
			lines = append(lines, fmt.Sprintf("known_csam_matches: %d", n))
		}
		if tip.HashMatches.AnyNovel {
			lines = append(lines, "novel_material: true")
		}
	}
	if e := tip.Entities; e != nil {
		if len(e.Victims) > 0 {
			bands := make([]string, 0, len(e.Victims))
			for _, v := range e.Victims {
				bands = append(bands, inline(v.AgeRange, 24))
			}
			lines = append(lines, "victim_age_ranges: "+strings.Join(bands, ", "))
		}
		if e.OngoingAbuse {
			lines = append(lines, "ongoing_abuse: true")
		}
		if len(e.CrisisIndicators) > 0 {
			lines = append(lines, fmt.Sprintf("crisis_indicators: %d", len(e.CrisisIndicators)))
		}
	}
	return strings.Join(lines, "\n")
}

func validateClassification(c models.Classification) error {
	switch c.OffenseCategory {
	case models.OffenseCSAM, models.OffenseGrooming, models.OffenseSextortion,
		models.OffenseTrafficking, models.OffenseOther:
	default:
		return fmt.Errorf("classifier returned unknown offense category %q", c.OffenseCategory)
	}
	switch c.Severity {
	case models.SeverityP1Critical, models.SeverityP2High,
		models.SeverityP3Medium, models.SeverityP4Low:
	default:
		return fmt.Errorf("classifier returned unknown severity %q", c.Severity)
	}
	return nil
}

// ApplyChildSafetyFloor raises CSAM severity to P1_CRITICAL whenever an
// extracted victim falls in a minor age band. The floor only raises; it
// reports whether it changed the severity.
func ApplyChildSafetyFloor(c *models.Classification, entities *models.ExtractedEntities) bool {
	if c == nil || c.OffenseCategory != models.OffenseCSAM {
		return false
	}
	if !victimInMinorBand(entities) {
		return false
	}
	c.MinorInvolved = true
	if c.Severity == models.SeverityP1Critical {
		return false
	}
	c.Severity = models.SeverityP1Critical
	c.Rationale = strings.TrimSpace(c.Rationale + " Severity raised to P1_CRITICAL: CSAM with a minor victim.")
	return true
}

func victimInMinorBand(e *models.ExtractedEntities) bool {
	if e == nil {
		return false
	}
	for _, v := range e.Victims {
		if MinorAgeBand(v.AgeRange) {
			return true
		}
	}
	return false
}

// MinorAgeBand reports whether an extracted age range denotes a minor. The
// canonical bands (0-2 through 16-17) parse numerically; any range whose
// lower bound is under 18 counts, as does the extractor's "unknown-minor"
// marker.
func MinorAgeBand(r string) bool {
	r = strings.ToLower(strings.TrimSpace(r))
	if r == "" {
		return false
	}
	if r == "unknown-minor" {
		return true
	}
	lo, _, ok := strings.Cut(r, "-")
	if !ok {
		lo = r
	}
	age, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return false
	}
	return age < 18
}
