package stages

import (
	"context"
	"fmt"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
)

const extractionSystem = `You extract structured facts from law-enforcement tip narratives.
Identify victims (with age range and whether they are at immediate risk), subjects,
usernames, IP addresses, platforms, and locations. Flag ongoing abuse and list any
crisis indicators verbatim. Report only what the narrative states; never infer
identities. Respond with a JSON object:
{"victims": [{"age_range": string, "at_immediate_risk": boolean, "detail": string}],
 "subjects": [{"name": string, "username": string, "detail": string}],
 "usernames": [string], "ip_addresses": [string], "platforms": [string],
 "locations": [string], "ongoing_abuse": boolean, "crisis_indicators": [string],
 "summary": string}`

// Extraction pulls victims, subjects and identifiers out of the narrative.
// Victim identification feeds the child-safety floor, so this stage uses the
// high oracle band.
type Extraction struct {
	harness *agent.Harness
}

// NewExtraction wires the extraction stage.
func NewExtraction(h *agent.Harness) *Extraction {
	return &Extraction{harness: h}
}

// Run asks the oracle for structured entities. Failure leaves the tip's
// entities unset; the orchestrator records the rejection and continues.
func (s *Extraction) Run(ctx context.Context, tip *models.Tip) (*models.ExtractedEntities, error) {
	var out models.ExtractedEntities
	_, err := s.harness.InvokeJSON(ctx, tip.TipID, agent.InvokeRequest{
		Agent:     models.AgentExtraction,
		Stage:     models.StepExtraction,
		Band:      oracle.BandHigh,
		MaxTokens: 900,
		System:    extractionSystem,
		Context: fmt.Sprintf("source: %s\nreporter: %s\nfiles_attached: %d",
			tip.Source, tip.Reporter.Type, len(tip.Files)),
		Untrusted: tip.RawContent,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
