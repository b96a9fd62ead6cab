package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tipline/backend/internal/models"
)

// StubModel is the model name reported on stub completions.
const StubModel = "stub-deterministic"

// StubProvider is the TOOL_MODE=stub backend. Responses are derived from the
// prompt text with fixed rules, so the same tip always triages the same way.
// FailNext and Override exist for exercising failure and edge paths in tests.
type StubProvider struct {
	mu        sync.Mutex
	failures  map[string]int
	overrides map[string]string
}

// NewStubProvider returns a stub with no scripted failures.
func NewStubProvider() *StubProvider {
	return &StubProvider{
		failures:  make(map[string]int),
		overrides: make(map[string]string),
	}
}

// Name identifies this provider in audit entries.
func (s *StubProvider) Name() string { return "stub" }

// FailNext makes the next n completions for a stage return an error.
func (s *StubProvider) FailNext(stage string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[stage] = n
}

// Override pins the stub's response content for a stage until Reset.
func (s *StubProvider) Override(stage, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[stage] = content
}

// Reset clears scripted failures and overrides.
func (s *StubProvider) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]int)
	s.overrides = make(map[string]string)
}

// Complete produces a deterministic response for the request's stage.
func (s *StubProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if n := s.failures[req.Stage]; n > 0 {
		s.failures[req.Stage] = n - 1
		s.mu.Unlock()
		return nil, fmt.Errorf("stub: scripted failure for stage %s", req.Stage)
	}
	if content, ok := s.overrides[req.Stage]; ok {
		s.mu.Unlock()
		return &Response{Content: content, Model: StubModel}, nil
	}
	s.mu.Unlock()

	text := joinUserContent(req.Messages)
	narrative := extractTipContent(text)

	var content string
	switch req.Stage {
	case models.StepIntake:
		content = s.intakeResponse(narrative)
	case models.StepWilsonGate:
		content = s.gateResponse(text, narrative)
	case models.StepExtraction:
		content = s.extractionResponse(narrative)
	case models.StepHashOSINT:
		content = s.osintResponse(narrative)
	case models.StepClassifier:
		content = s.classifierResponse(text, narrative)
	case models.StepLinker:
		content = `{"notes":"candidate links reviewed against prior tips and deconfliction registry"}`
	case models.StepPriority:
		content = s.priorityResponse(narrative)
	default:
		content = `{"notes":"no stage-specific behavior"}`
	}
	return &Response{Content: content, Model: StubModel}, nil
}

func joinUserContent(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == RoleUser {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func extractTipContent(s string) string {
	start := strings.Index(s, "<tip_content>")
	end := strings.LastIndex(s, "</tip_content>")
	if start >= 0 && end > start {
		return s[start+len("<tip_content>") : end]
	}
	return s
}

var (
	usernameRe = regexp.MustCompile(`@([A-Za-z0-9_]{3,30})`)
	ipRe       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ageRe      = regexp.MustCompile(`(?i)\b(\d{1,2})[\s-]?(?:year[\s-]?old|yo\b|y/o)`)
)

var knownPlatforms = []string{
	"instagram", "snapchat", "discord", "telegram", "kik",
	"whatsapp", "facebook", "tiktok", "roblox", "omegle",
}

var crisisTerms = []string{
	"suicide", "self-harm", "self harm", "kill himself", "kill herself",
	"immediate danger", "meeting tonight", "meet tonight", "right now",
	"livestream", "live-stream", "in the car", "on his way", "on her way",
}

var ongoingTerms = []string{
	"ongoing", "still happening", "continues", "every day", "daily", "each night",
}

func containsAny(s string, terms []string) bool {
	lower := strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func matchedTerms(s string, terms []string) []string {
	lower := strings.ToLower(s)
	var out []string
	for _, t := range terms {
		if strings.Contains(lower, t) {
			out = append(out, t)
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func (s *StubProvider) intakeResponse(narrative string) string {
	out := map[string]any{"summary": truncate(narrative, 160)}
	b, _ := json.Marshal(out)
	return string(b)
}

func (s *StubProvider) gateResponse(full, narrative string) string {
	conf := 0.85
	if strings.Contains(full, "application: strict") {
		conf = 0.95
	}
	out := map[string]any{
		"legal_note":       "Private-search analysis drafted from circuit rule; per-file determinations are code-derived.",
		"confidence":       conf,
		"exigent_possible": containsAny(narrative, crisisTerms),
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func (s *StubProvider) extractionResponse(narrative string) string {
	type victim struct {
		AgeRange        string `json:"age_range,omitempty"`
		AtImmediateRisk bool   `json:"at_immediate_risk"`
		Detail          string `json:"detail,omitempty"`
	}
	crisisHits := matchedTerms(narrative, crisisTerms)
	crisis := len(crisisHits) > 0

	var victims []victim
	for _, m := range ageRe.FindAllStringSubmatch(narrative, -1) {
		age := m[1]
		victims = append(victims, victim{
			AgeRange:        age + "-" + age,
			AtImmediateRisk: crisis,
			Detail:          "age stated in narrative",
		})
	}
	if len(victims) == 0 && containsAny(narrative, []string{"minor", "child", "underage", "student", "daughter", "son"}) {
		victims = append(victims, victim{AgeRange: "unknown-minor", AtImmediateRisk: crisis})
	}

	var usernames []string
	seen := map[string]bool{}
	for _, m := range usernameRe.FindAllStringSubmatch(narrative, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			usernames = append(usernames, m[1])
		}
	}

	var platforms []string
	lower := strings.ToLower(narrative)
	for _, p := range knownPlatforms {
		if strings.Contains(lower, p) {
			platforms = append(platforms, p)
		}
	}

	out := map[string]any{
		"victims":           victims,
		"subjects":          []any{},
		"usernames":         usernames,
		"ip_addresses":      ipRe.FindAllString(narrative, -1),
		"platforms":         platforms,
		"locations":         []string{},
		"ongoing_abuse":     containsAny(narrative, ongoingTerms),
		"crisis_indicators": crisisHits,
		"summary":           truncate(narrative, 200),
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func (s *StubProvider) osintResponse(narrative string) string {
	matches := usernameRe.FindAllString(narrative, -1)
	summary := "no actionable open-source leads"
	if len(matches) > 0 {
		summary = fmt.Sprintf("open-source review of %s suggests account reuse across platforms", strings.Join(matches, ", "))
	}
	b, _ := json.Marshal(map[string]string{"osint_summary": summary})
	return string(b)
}

func (s *StubProvider) classifierResponse(full, narrative string) string {
	lower := strings.ToLower(narrative)
	category := "other"
	switch {
	case containsAny(lower, []string{"trafficking", "sold for", "pimp", "escort ring"}):
		category = "trafficking"
	case containsAny(lower, []string{"sextortion", "threatened to share", "demanded money", "bitcoin", "blackmail", "pay or"}):
		category = "sextortion"
	case containsAny(lower, []string{"grooming", "groomed", "befriend", "gift card", "meet in person", "building trust"}):
		category = "grooming"
	case containsAny(lower, []string{"csam", "abuse material", "nude", "explicit image", "explicit video", "sexual abuse"}) ||
		strings.Contains(full, "known_csam_matches:"):
		category = "csam"
	}

	minor := ageRe.MatchString(narrative) ||
		containsAny(lower, []string{"minor", "child", "underage", "student", "daughter", "son"})
	crisis := containsAny(narrative, crisisTerms)
	aig := containsAny(lower, []string{"ai-generated", "ai generated", "deepfake", "synthetic imagery"})

	severity := "P3_MEDIUM"
	switch {
	case crisis:
		severity = "P1_CRITICAL"
	case category == "csam" || category == "trafficking":
		severity = "P2_HIGH"
	case category == "other":
		severity = "P4_LOW"
	}

	conf := 0.92
	if category == "other" {
		conf = 0.55
	}

	out := map[string]any{
		"offense_category": category,
		"severity":         severity,
		"confidence":       conf,
		"rationale":        "rule-based classification from narrative markers",
		"minor_involved":   minor,
		"aig_involved":     aig,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func (s *StubProvider) priorityResponse(narrative string) string {
	lower := strings.ToLower(narrative)
	unit := "icac_task_force"
	action := "Queue for analyst review"
	switch {
	case containsAny(narrative, crisisTerms):
		unit = "supervisor"
		action = "Immediate supervisor review and victim outreach"
	case strings.Contains(lower, "trafficking"):
		unit = "specialty_unit"
		action = "Route to trafficking squad for victim identification"
	}
	b, _ := json.Marshal(map[string]string{
		"recommended_action": action,
		"routing_unit":       unit,
	})
	return string(b)
}
