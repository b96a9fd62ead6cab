package legal

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Application states how a circuit treats government review of ESP-reported
// files that the ESP never opened.
type Application string

const (
	// ApplicationStrict: binding precedent forbids expanding the private
	// search, so a warrant is required for unviewed files.
	ApplicationStrict Application = "strict"
	// ApplicationConservative: precedent leans protective or is contested;
	// policy treats it as strict.
	ApplicationConservative Application = "conservative"
	// ApplicationNoPrecedent: no controlling case; policy defaults to the
	// protective reading.
	ApplicationNoPrecedent Application = "no_precedent_conservative"
)

// Rule is the controlling private-search doctrine for one circuit. The
// standard text is what investigators see on the tip detail view; it states
// the operative file-access rule in plain language.
type Rule struct {
	Circuit                string      `json:"circuit"`
	Application            Application `json:"application"`
	BindingPrecedent       string      `json:"binding_precedent,omitempty"`
	FileAccessStandardText string      `json:"file_access_standard_text"`
	Notes                  string      `json:"notes,omitempty"`
	Citations              []string    `json:"citations,omitempty"`
	LastReviewed           time.Time   `json:"last_reviewed"`
}

// StandardText returns the plain-language file-access standard for an
// application level.
func StandardText(app Application) string {
	switch app {
	case ApplicationStrict:
		return "Warrant required before opening any file the reporting ESP did not itself view."
	case ApplicationConservative:
		return "Precedent is narrower than Wilson; policy still requires a warrant for unviewed files."
	default:
		return "No controlling authority; protective default applies and unviewed files require a warrant."
	}
}

// Effect describes what a new decision does to the circuit's standing rule.
// Only now_binding mutates the rule; the other three are recorded for the
// precedent history without changing doctrine.
type Effect string

const (
	EffectNowBinding Effect = "now_binding"
	EffectAffirmed   Effect = "affirmed"
	EffectLimited    Effect = "limited"
	EffectReversed   Effect = "reversed"
)

// ValidEffect reports whether e is one of the recognized effects.
func ValidEffect(e Effect) bool {
	switch e {
	case EffectNowBinding, EffectAffirmed, EffectLimited, EffectReversed:
		return true
	}
	return false
}

// PrecedentUpdate records a new decision entered by legal staff.
type PrecedentUpdate struct {
	UpdateID  string    `json:"update_id"`
	Circuit   string    `json:"circuit"`
	CaseName  string    `json:"case_name"`
	Citation  string    `json:"citation"`
	Holding   string    `json:"holding"`
	Effect    Effect    `json:"effect"`
	EnteredBy string    `json:"entered_by"`
	EnteredAt time.Time `json:"entered_at"`
}

// PrecedentStore persists precedent updates and rule overrides across
// restarts. The reference works without one; memory mode passes nil.
type PrecedentStore interface {
	AppendPrecedent(ctx context.Context, u PrecedentUpdate) error
	SaveRuleOverride(ctx context.Context, r Rule) error
	LoadPrecedents(ctx context.Context) ([]PrecedentUpdate, error)
	LoadRuleOverrides(ctx context.Context) ([]Rule, error)
}

// Reference answers circuit-rule lookups for the Wilson gate and accepts
// precedent updates at runtime. Safe for concurrent use.
type Reference struct {
	mu      sync.RWMutex
	rules   map[string]Rule
	updates []PrecedentUpdate
	store   PrecedentStore
	logger  *log.Logger
}

// NewReference seeds the circuit rules current as of initial deployment and
// replays any persisted overrides from store.
func NewReference(store PrecedentStore) *Reference {
	r := &Reference{
		rules:  seedRules(),
		store:  store,
		logger: log.New(log.Writer(), "[LegalReference] ", log.LstdFlags),
	}
	if store != nil {
		r.replay()
	}
	return r
}

func seedRules() map[string]Rule {
	seeded := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	rules := map[string]Rule{
		"9th": {
			Circuit:          "9th",
			Application:      ApplicationStrict,
			BindingPrecedent: "United States v. Wilson, 13 F.4th 961 (9th Cir. 2021)",
			Notes:            "Government viewing of unopened ESP files expands the private search; warrant required.",
			Citations:        []string{"13 F.4th 961 (9th Cir. 2021)"},
			LastReviewed:     seeded,
		},
		"10th": {
			Circuit:          "10th",
			Application:      ApplicationStrict,
			BindingPrecedent: "United States v. Ackerman, 831 F.3d 1292 (10th Cir. 2016)",
			Notes:            "NCMEC is a governmental entity; opening unviewed files is a Fourth Amendment search.",
			Citations:        []string{"831 F.3d 1292 (10th Cir. 2016)"},
			LastReviewed:     seeded,
		},
		"5th": {
			Circuit:          "5th",
			Application:      ApplicationConservative,
			BindingPrecedent: "United States v. Reddick, 900 F.3d 636 (5th Cir. 2018)",
			Notes:            "Hash-match review upheld, but scope beyond matched files is unsettled; treat as strict.",
			Citations:        []string{"900 F.3d 636 (5th Cir. 2018)"},
			LastReviewed:     seeded,
		},
		"6th": {
			Circuit:          "6th",
			Application:      ApplicationConservative,
			BindingPrecedent: "United States v. Miller, 982 F.3d 412 (6th Cir. 2020)",
			Notes:            "Reliable-hash viewing permitted; unmatched or unviewed files remain protected.",
			Citations:        []string{"982 F.3d 412 (6th Cir. 2020)"},
			LastReviewed:     seeded,
		},
		"8th": {
			Circuit:          "8th",
			Application:      ApplicationConservative,
			BindingPrecedent: "United States v. Ringland, 966 F.3d 731 (8th Cir. 2020)",
			Notes:            "ESP searches private; government expansion beyond reported scope not resolved.",
			Citations:        []string{"966 F.3d 731 (8th Cir. 2020)"},
			LastReviewed:     seeded,
		},
	}
	for _, c := range []string{"1st", "2nd", "3rd", "4th", "7th", "11th", "DC", "unknown"} {
		rules[c] = Rule{
			Circuit:      c,
			Application:  ApplicationNoPrecedent,
			Notes:        "No controlling circuit authority on private-search expansion; protective default applies.",
			LastReviewed: seeded,
		}
	}
	for c, rule := range rules {
		rule.FileAccessStandardText = StandardText(rule.Application)
		rules[c] = rule
	}
	return rules
}

func (r *Reference) replay() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updates, err := r.store.LoadPrecedents(ctx)
	if err != nil {
		r.logger.Printf("⚠️ failed to load precedent history: %v", err)
	} else {
		r.updates = updates
	}
	overrides, err := r.store.LoadRuleOverrides(ctx)
	if err != nil {
		r.logger.Printf("⚠️ failed to load rule overrides: %v", err)
		return
	}
	for _, rule := range overrides {
		r.rules[rule.Circuit] = rule
	}
	if len(overrides) > 0 {
		r.logger.Printf("replayed %d rule override(s)", len(overrides))
	}
}

// RuleFor returns a copy of the controlling rule for a circuit.
func (r *Reference) RuleFor(circuit string) Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rule, ok := r.rules[circuit]; ok {
		return rule
	}
	return r.rules["unknown"]
}

// RuleForState resolves a state to its circuit and returns the rule.
func (r *Reference) RuleForState(state string) Rule {
	return r.RuleFor(ResolveCircuit(state))
}

// Rules returns all circuit rules sorted by circuit name.
func (r *Reference) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Circuit < out[j].Circuit })
	return out
}

// Updates returns the precedent update log, newest first.
func (r *Reference) Updates() []PrecedentUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PrecedentUpdate, len(r.updates))
	copy(out, r.updates)
	sort.Slice(out, func(i, j int) bool { return out[i].EnteredAt.After(out[j].EnteredAt) })
	return out
}

// RecordUpdate appends a precedent decision. When the decision's effect is
// now_binding, the circuit's rule flips to strict immediately, so every
// Wilson evaluation after this call sees the new doctrine.
func (r *Reference) RecordUpdate(ctx context.Context, u PrecedentUpdate) (PrecedentUpdate, error) {
	if u.Circuit == "" || u.CaseName == "" {
		return PrecedentUpdate{}, fmt.Errorf("precedent update requires circuit and case_name")
	}
	if !ValidEffect(u.Effect) {
		return PrecedentUpdate{}, fmt.Errorf("unknown precedent effect %q", u.Effect)
	}
	if u.UpdateID == "" {
		u.UpdateID = uuid.New().String()
	}
	if u.EnteredAt.IsZero() {
		u.EnteredAt = time.Now().UTC()
	}

	r.mu.Lock()
	r.updates = append(r.updates, u)
	var override *Rule
	if u.Effect == EffectNowBinding {
		rule := r.rules[u.Circuit]
		rule.Circuit = u.Circuit
		rule.Application = ApplicationStrict
		rule.BindingPrecedent = fmt.Sprintf("%s, %s", u.CaseName, u.Citation)
		if u.Citation == "" {
			rule.BindingPrecedent = u.CaseName
		}
		rule.FileAccessStandardText = StandardText(ApplicationStrict)
		rule.Notes = u.Holding
		if u.Citation != "" {
			rule.Citations = append(rule.Citations, u.Citation)
		}
		rule.LastReviewed = u.EnteredAt
		r.rules[u.Circuit] = rule
		override = &rule
	}
	r.mu.Unlock()

	if override != nil {
		r.logger.Printf("circuit %s now strict under %s", u.Circuit, u.CaseName)
	}

	if r.store != nil {
		if err := r.store.AppendPrecedent(ctx, u); err != nil {
			r.logger.Printf("⚠️ failed to persist precedent %s: %v", u.UpdateID, err)
		}
		if override != nil {
			if err := r.store.SaveRuleOverride(ctx, *override); err != nil {
				r.logger.Printf("⚠️ failed to persist rule override for %s: %v", u.Circuit, err)
			}
		}
	}
	return u, nil
}
