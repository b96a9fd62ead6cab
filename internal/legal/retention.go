package legal

import "strings"

// defaultRetentionDays approximates how long each ESP keeps account data
// before a preservation request must land. Values are the operational
// assumptions used for deadline math, not legal advice.
var defaultRetentionDays = map[string]int{
	"meta":      90,
	"facebook":  90,
	"instagram": 90,
	"whatsapp":  90,
	"google":    180,
	"youtube":   180,
	"microsoft": 180,
	"snapchat":  30,
	"discord":   30,
	"x":         30,
	"twitter":   30,
	"tiktok":    90,
	"kik":       90,
	"roblox":    30,
	"telegram":  0, // no reliable retention; treat as immediate risk
}

const fallbackRetentionDays = 90

// RetentionTable resolves per-ESP retention windows, with config-supplied
// overrides taking priority over the built-in defaults.
type RetentionTable struct {
	overrides map[string]int
}

// NewRetentionTable builds a table; overrides may be nil.
func NewRetentionTable(overrides map[string]int) *RetentionTable {
	norm := make(map[string]int, len(overrides))
	for k, v := range overrides {
		norm[normalizeESP(k)] = v
	}
	return &RetentionTable{overrides: norm}
}

// Days returns the retention window for an ESP in days.
func (t *RetentionTable) Days(espName string) int {
	key := normalizeESP(espName)
	if t != nil {
		if d, ok := t.overrides[key]; ok {
			return d
		}
	}
	if d, ok := defaultRetentionDays[key]; ok {
		return d
	}
	return fallbackRetentionDays
}

func normalizeESP(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
