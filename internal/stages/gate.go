package stages

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
	"github.com/tipline/backend/internal/wilson"
)

const gateSystem = `You are the legal review stage of a law-enforcement tip triage system.
Per-file warrant determinations have already been made by deterministic policy code
and are final; do not revisit them. Your job is to draft the analyst-facing note
explaining the legal posture in plain English, estimate your confidence in the
overall legal analysis, and flag whether the narrative suggests exigent
circumstances a human should evaluate.
Respond with a JSON object: {"legal_note": string, "confidence": number, "exigent_possible": boolean}.`

// WilsonGate is the compliance-critical stage. It applies the per-file
// warrant rule, assembles the tip-level legal status, and asks the high
// oracle band to draft the analyst-facing note.
type WilsonGate struct {
	harness *agent.Harness
	legal   *legal.Reference
	logger  *log.Logger
}

// NewWilsonGate wires the gate stage over the circuit-rule reference.
func NewWilsonGate(h *agent.Harness, ref *legal.Reference) *WilsonGate {
	return &WilsonGate{
		harness: h,
		legal:   ref,
		logger:  log.New(log.Writer(), "[WilsonGate] ", log.LstdFlags),
	}
}

// Deterministic runs only the code-derived portion of the gate: per-file
// warrant decisions, the tip-level rollup and the rule-table note.
// Instant-bypass mode uses it to populate legal status without an oracle.
func (s *WilsonGate) Deterministic(tip *models.Tip) *models.LegalStatus {
	wilson.Apply(tip)
	ls := wilson.Summarize(tip.Files)
	rule := s.legal.RuleForState(tip.Jurisdiction.State)
	ls.RelevantCircuit = rule.Circuit
	ls.LegalNote = wilson.BaseNote(rule, ls)
	ls.Confidence = wilson.BaseConfidence(rule)
	return &ls
}

// Run mutates the tip's files with the deterministic warrant decisions and
// returns the assembled legal status. The oracle contributes prose, a
// confidence figure and an exigency hint; the decisions themselves never
// come from it. A returned error means the gate could not complete and the
// orchestrator must hard-stop the tip: the accompanying status already holds
// the fail-safe all-blocked posture.
func (s *WilsonGate) Run(ctx context.Context, tip *models.Tip) (*models.LegalStatus, error) {
	ls := *s.Deterministic(tip)
	rule := s.legal.RuleForState(tip.Jurisdiction.State)

	var out struct {
		LegalNote       string  `json:"legal_note"`
		Confidence      float64 `json:"confidence"`
		ExigentPossible bool    `json:"exigent_possible"`
	}
	_, err := s.harness.InvokeJSON(ctx, tip.TipID, agent.InvokeRequest{
		Agent:     models.AgentLegalGate,
		Stage:     models.StepWilsonGate,
		Band:      oracle.BandHigh,
		MaxTokens: 500,
		System:    gateSystem,
		Context:   ruleContext(rule, ls, tip),
		Untrusted: tip.NormalizedBody,
	}, &out)
	if err != nil {
		fail := wilson.FailSafe(tip, "legal oracle unreachable")
		fail.RelevantCircuit = rule.Circuit
		s.logger.Printf("❌ gate failed for %s; fail-safe posture applied: %v", tip.TipID, err)
		return &fail, err
	}

	// The deterministic note cites the operative rule and precedent; the
	// oracle's drafting is appended so the citation always survives.
	if note := strings.TrimSpace(out.LegalNote); note != "" {
		ls.LegalNote = ls.LegalNote + " " + note
	}
	if out.Confidence > 0 {
		ls.Confidence = clamp01(out.Confidence)
	}
	ls.ExigentPossible = out.ExigentPossible
	return &ls, nil
}

func ruleContext(rule legal.Rule, ls models.LegalStatus, tip *models.Tip) string {
	viewed, public := 0, 0
	for i := range tip.Files {
		if tip.Files[i].ESPViewed && !tip.Files[i].ESPViewedMissing {
			viewed++
		}
		if tip.Files[i].PubliclyAvailable {
			public++
		}
	}
	return fmt.Sprintf(
		"circuit: %s\napplication: %s\nrule: %s\nbinding_precedent: %s\nfiles: %d total, %d esp-viewed, %d public, %d warrant-required\nany_files_accessible: %t",
		rule.Circuit, rule.Application, rule.FileAccessStandardText, rule.BindingPrecedent,
		len(tip.Files), viewed, public, len(ls.WarrantRequiredFiles), ls.AnyFilesAccessible)
}
