// Package wilson implements the per-file warrant determination derived from
// private-search doctrine (United States v. Wilson, 9th Cir. 2021). The rule
// is deterministic code: a reported file may be viewed without process only
// when it is publicly available or the ESP actually viewed it. Everything
// here must stay reproducible in court, so no model output feeds these
// decisions.
package wilson

import (
	"fmt"
	"sort"

	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/models"
)

// minConfidence is the floor below which a tip with no accessible files
// cannot proceed through enrichment.
const minConfidence = 0.5

// Decide returns whether viewing a file requires a warrant.
//
// Order matters: public availability defeats any privacy interest, an actual
// ESP viewing means the private search already happened, and an absent
// esp_viewed field is treated as not viewed.
func Decide(f models.TipFile) bool {
	if f.PubliclyAvailable {
		return false
	}
	if f.ESPViewed && !f.ESPViewedMissing {
		return false
	}
	return true
}

// Recompute derives the warrant fields for one file from its viewing facts
// and current process state. FileAccessBlocked is held to the invariant
// warrant_required && warrant_status != granted.
func Recompute(f *models.TipFile) {
	f.WarrantRequired = Decide(*f)
	if !f.WarrantRequired {
		f.WarrantStatus = models.WarrantNotNeeded
	} else if f.WarrantStatus == "" || f.WarrantStatus == models.WarrantNotNeeded {
		f.WarrantStatus = models.WarrantPendingApplication
	}
	f.FileAccessBlocked = f.WarrantRequired && f.WarrantStatus != models.WarrantGranted
}

// Apply runs the gate over every file on a tip.
func Apply(tip *models.Tip) {
	for i := range tip.Files {
		Recompute(&tip.Files[i])
	}
}

// Summarize rolls per-file state up into the tip-level legal status. The
// note, circuit and confidence fields are left for the caller to fill.
func Summarize(files []models.TipFile) models.LegalStatus {
	ls := models.LegalStatus{
		AllWarrantsResolved:         true,
		ExigentCircumstancesClaimed: false,
	}
	for i := range files {
		f := &files[i]
		if f.WarrantRequired {
			ls.WarrantRequiredFiles = append(ls.WarrantRequiredFiles, f.FileID)
			if f.WarrantStatus != models.WarrantGranted && f.WarrantStatus != models.WarrantDenied {
				ls.AllWarrantsResolved = false
			}
		}
		if !f.FileAccessBlocked {
			ls.AnyFilesAccessible = true
		}
	}
	sort.Strings(ls.WarrantRequiredFiles)
	return ls
}

// UpdateAggregate refreshes the rollup fields on an existing legal status
// after a warrant flip, preserving the note, circuit and confidence the gate
// stage wrote.
func UpdateAggregate(ls *models.LegalStatus, files []models.TipFile) {
	fresh := Summarize(files)
	ls.WarrantRequiredFiles = fresh.WarrantRequiredFiles
	ls.AllWarrantsResolved = fresh.AllWarrantsResolved
	ls.AnyFilesAccessible = fresh.AnyFilesAccessible
	ls.ExigentCircumstancesClaimed = false
}

// HardStop reports whether enrichment must halt: low confidence in the legal
// posture combined with nothing an analyst may view. Tips without files never
// hard-stop here.
func HardStop(ls models.LegalStatus, fileCount int) bool {
	return fileCount > 0 && !ls.AnyFilesAccessible && ls.Confidence < minConfidence
}

// FailSafe is the posture taken when the gate stage itself fails: every file
// is treated as warrant-required and blocked, and the tip hard-stops.
func FailSafe(tip *models.Tip, reason string) models.LegalStatus {
	for i := range tip.Files {
		f := &tip.Files[i]
		f.WarrantRequired = true
		if f.WarrantStatus == "" || f.WarrantStatus == models.WarrantNotNeeded {
			f.WarrantStatus = models.WarrantPendingApplication
		}
		f.FileAccessBlocked = f.WarrantStatus != models.WarrantGranted
	}
	ls := Summarize(tip.Files)
	ls.LegalNote = fmt.Sprintf("Legal gate unavailable (%s); all files held pending manual review.", reason)
	ls.Confidence = 0
	return ls
}

// BaseNote renders the deterministic legal note for a circuit rule. The gate
// stage may replace it with richer oracle-drafted language, but this text is
// always valid on its own.
func BaseNote(rule legal.Rule, ls models.LegalStatus) string {
	required := len(ls.WarrantRequiredFiles)
	switch rule.Application {
	case legal.ApplicationStrict:
		return fmt.Sprintf("%s circuit applies the private-search doctrine strictly (%s); %d file(s) require a warrant before viewing.",
			rule.Circuit, rule.BindingPrecedent, required)
	case legal.ApplicationConservative:
		return fmt.Sprintf("%s circuit precedent (%s) is narrower than strict, but policy treats unviewed files as protected; %d file(s) require a warrant.",
			rule.Circuit, rule.BindingPrecedent, required)
	default:
		return fmt.Sprintf("No controlling precedent in the %s circuit; protective default applied, %d file(s) require a warrant.",
			rule.Circuit, required)
	}
}

// BaseConfidence is the deterministic confidence assigned when the oracle
// cannot improve on the rule table.
func BaseConfidence(rule legal.Rule) float64 {
	switch rule.Application {
	case legal.ApplicationStrict:
		return 0.95
	case legal.ApplicationConservative:
		return 0.8
	default:
		return 0.6
	}
}
