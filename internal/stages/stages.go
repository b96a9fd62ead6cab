// Package stages implements the enrichment stages of the triage pipeline:
// intake, Wilson gate, extraction, hash/OSINT, classifier, linker and
// priority. Each stage is a small struct wired with exactly the dependencies
// it needs; the orchestrator owns ordering, fan-out and fault policy.
//
// Only intake and the Wilson gate mutate the tip, and both run before any
// fan-out. Every later stage reads a settled snapshot and returns its
// enrichment for the orchestrator to attach, so the two parallel pairs can
// share one tip without locking.
package stages

import "strings"

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// inline flattens a reporter-derived string so it can appear on a single
// trusted context line. Angle brackets and line breaks are spaced out and the
// result is length-capped.
func inline(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '\n', '\r':
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	return truncateUTF8(s, max)
}
