package watchlist

import (
	"context"
	"strings"
	"sync"

	"github.com/tipline/backend/internal/models"
)

// DeconflictionEntry marks an identifier as belonging to another agency's
// case. ActiveInvestigation entries force the PAUSED tier so parallel work
// cannot burn an operation.
type DeconflictionEntry struct {
	Identifier          string `json:"identifier"`
	Kind                string `json:"kind"` // username, ip, hash, case_number
	Agency              string `json:"agency"`
	CaseRef             string `json:"case_ref"`
	ActiveInvestigation bool   `json:"active_investigation"`
}

// Registry is the interagency deconfliction index. In production this fronts
// a regional RISS node; here entries are registered directly.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]DeconflictionEntry // normalized identifier -> entries
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]DeconflictionEntry)}
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register adds an entry to the index.
func (r *Registry) Register(e DeconflictionEntry) {
	key := normalizeIdentifier(e.Identifier)
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = append(r.entries[key], e)
}

// Check matches a tip's extracted identifiers against the index. Each
// registry entry is reported at most once per tip even when several
// identifiers point at it.
func (r *Registry) Check(ctx context.Context, usernames, ips, hashes []string) ([]models.DeconflictionHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var hits []models.DeconflictionHit
	collect := func(values []string, kind string) {
		for _, v := range values {
			for _, e := range r.entries[normalizeIdentifier(v)] {
				dedupeKey := e.Agency + "/" + e.CaseRef
				if seen[dedupeKey] {
					continue
				}
				seen[dedupeKey] = true
				hits = append(hits, models.DeconflictionHit{
					Agency:              e.Agency,
					CaseRef:             e.CaseRef,
					ActiveInvestigation: e.ActiveInvestigation,
					MatchedOn:           kind + ":" + v,
				})
			}
		}
	}
	collect(usernames, "username")
	collect(ips, "ip")
	collect(hashes, "hash")
	return hits, nil
}

// Len reports how many identifiers are indexed.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reset clears the index.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string][]DeconflictionEntry)
}
