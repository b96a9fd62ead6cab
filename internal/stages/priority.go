package stages

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
	"github.com/tipline/backend/internal/priority"
)

const prioritySystem = `You phrase the recommended first action for a triaged law-enforcement tip.
The score, tier and routing were computed by policy code and are final. Given that
outcome and the narrative, write one concrete, operational sentence for the assigned
analyst. Respond with a JSON object: {"recommended_action": string, "routing_unit": string}.`

// Priority is the final stage: deterministic scoring through the engine plus
// an oracle-phrased recommended action.
type Priority struct {
	harness *agent.Harness
	engine  *priority.Engine
	logger  *log.Logger
}

// NewPriority wires the priority stage.
func NewPriority(h *agent.Harness, engine *priority.Engine) *Priority {
	return &Priority{
		harness: h,
		engine:  engine,
		logger:  log.New(log.Writer(), "[Priority] ", log.LstdFlags),
	}
}

// Deterministic scores without the phrasing oracle. Instant-bypass mode uses
// it; the engine's own recommended action stands in for the drafted one.
func (s *Priority) Deterministic(tip *models.Tip) priority.Assessment {
	return s.engine.Assess(tip)
}

// Run scores the tip. Scoring itself never fails; when the phrasing oracle is
// unreachable the engine's safe default holds the tip for supervisor review
// and the second return is true. The oracle's routing suggestion is ignored:
// unit routing stays deterministic.
func (s *Priority) Run(ctx context.Context, tip *models.Tip) (priority.Assessment, bool, error) {
	assessment := s.engine.Assess(tip)

	var out struct {
		RecommendedAction string `json:"recommended_action"`
		RoutingUnit       string `json:"routing_unit"`
	}
	_, err := s.harness.InvokeJSON(ctx, tip.TipID, agent.InvokeRequest{
		Agent:     models.AgentPriority,
		Stage:     models.StepPriority,
		Band:      oracle.BandFast,
		MaxTokens: 300,
		System:    prioritySystem,
		Context:   priorityContext(assessment),
		Untrusted: tip.NormalizedBody,
	}, &out)
	if err != nil {
		// A cancelled run is interrupted; a timed-out or exhausted oracle
		// degrades to the safe default like any other rejection.
		if errors.Is(ctx.Err(), context.Canceled) {
			return priority.Assessment{}, false, ctx.Err()
		}
		reason := "recommendation oracle exhausted"
		if ctx.Err() != nil {
			reason = "recommendation oracle timed out"
		}
		s.logger.Printf("⚠️ priority oracle unavailable for %s; safe default applied", tip.TipID)
		safe := s.engine.SafeDefault(tip, reason)
		return priority.Assessment{Priority: safe}, true, nil
	}

	if action := strings.TrimSpace(out.RecommendedAction); action != "" {
		assessment.Priority.RecommendedAction = action
	}
	return assessment, false, nil
}

func priorityContext(a priority.Assessment) string {
	p := a.Priority
	lines := []string{
		fmt.Sprintf("tier: %s", p.Tier),
		fmt.Sprintf("score: %d", p.Score),
		fmt.Sprintf("routing_unit: %s", p.RoutingUnit),
	}
	if p.VictimCrisisAlert {
		lines = append(lines, "victim_crisis_alert: true")
	}
	if p.SupervisorAlert {
		lines = append(lines, "supervisor_alert: true")
	}
	if len(a.Preservation) > 0 {
		lines = append(lines, fmt.Sprintf("preservation_drafts: %d", len(a.Preservation)))
	}
	return strings.Join(lines, "\n")
}
