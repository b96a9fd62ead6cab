// Package ingest is the front door of the triage service: it validates raw
// submissions, deduplicates them by content fingerprint, and feeds accepted
// tips to pipeline workers through a job queue. It also hosts the background
// cluster scan that links tips sharing subjects, hashes or infrastructure.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/stages"
)

// Fingerprint derives the stable dedup identifier for a submission: a
// SHA-256 over the source tag, the normalized narrative, and the structural
// identifiers a channel may attach. Whitespace and control-byte differences
// never change the fingerprint; a different source or NCMEC number does.
func Fingerprint(raw models.RawTipInput) string {
	h := sha256.New()
	field := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0x1f})
	}
	field(string(raw.Source))
	field(stages.NormalizeBody(raw.RawContent))
	if m := raw.Metadata; m != nil {
		field(m.NCMECNumber)
		field(m.CaseNumber)
	}
	return hex.EncodeToString(h.Sum(nil))
}
