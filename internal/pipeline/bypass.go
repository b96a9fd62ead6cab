package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/stages"
	"github.com/tipline/backend/internal/wilson"
)

// Instant bypass synthesizes a complete triage without any oracle call. Demo
// deployments use it for sub-second results. The Wilson gate and the priority
// engine are deterministic code and run for real; extraction and
// classification fall back to keyword heuristics over the narrative.

var bypassHandleRe = regexp.MustCompile(`@([A-Za-z0-9_]{3,30})`)

var bypassCrisisTerms = []string{
	"suicide", "self-harm", "self harm", "immediate danger",
	"meeting tonight", "meet tonight", "right now", "livestream",
}

var bypassOngoingTerms = []string{
	"ongoing", "still happening", "continues", "every day", "daily",
}

var bypassMinorTerms = []string{
	"minor", "child", "underage", "student", "daughter", "son",
	"year-old", "year old",
}

func (p *Pipeline) instantBypass(ctx context.Context, job Job, started time.Time) (*models.Tip, error) {
	tip := stages.BuildTip(job.TipID, job.Fingerprint, job.Raw)
	p.appendAudit(ctx, job.TipID, models.AgentOrch, models.AuditInfo,
		"instant bypass: deterministic triage without oracle enrichment")

	tip.LegalStatus = p.stages.Gate.Deterministic(tip)
	if wilson.HardStop(*tip.LegalStatus, len(tip.Files)) {
		return p.hardStop(ctx, tip, nil)
	}

	if hm := p.stages.HashOSINT.Deterministic(ctx, tip); hm != nil {
		tip.HashMatches = hm
		stages.FoldHashVerdicts(tip, hm)
	}

	lower := strings.ToLower(tip.NormalizedBody)
	crisisHits := bypassMatches(lower, bypassCrisisTerms)
	entities := &models.ExtractedEntities{
		Usernames:        bypassHandles(tip.NormalizedBody),
		OngoingAbuse:     bypassAny(lower, bypassOngoingTerms),
		CrisisIndicators: crisisHits,
	}
	if bypassAny(lower, bypassMinorTerms) {
		entities.Victims = []models.VictimIndicator{{
			AgeRange:        "unknown-minor",
			AtImmediateRisk: len(crisisHits) > 0,
		}}
	}
	tip.Entities = entities

	tip.Classification = bypassClassify(lower, tip, len(crisisHits) > 0)
	stages.ApplyChildSafetyFloor(tip.Classification, tip.Entities)

	// The linker never consults the oracle, so it runs unchanged.
	if links, err := p.stages.Linker.Run(ctx, tip); err == nil {
		tip.Links = links
	}

	assessment := p.stages.Priority.Deterministic(tip)
	tip.Priority = assessment.Priority
	tip.Preservation = append(tip.Preservation, assessment.Preservation...)

	if tip.Priority.Tier == models.TierPaused {
		tip.Status = models.StatusPending
	} else {
		tip.Status = models.StatusTriaged
	}
	tip.UpdatedAt = time.Now().UTC()

	p.appendAudit(ctx, job.TipID, models.AgentOrch, models.AuditInfo,
		fmt.Sprintf("instant bypass complete in %s: status=%s tier=%s",
			time.Since(started).Round(time.Millisecond), tip.Status, tip.Priority.Tier))
	if err := p.persist(ctx, tip); err != nil {
		return tip, err
	}
	p.metrics.RecordCompletion(string(tip.Priority.Tier))
	p.emit(job.TipID, models.StepComplete, models.EventDone, string(tip.Priority.Tier))
	p.logger.Printf("⚡ %s bypassed: status=%s tier=%s", job.TipID, tip.Status, tip.Priority.Tier)
	return tip, nil
}

func bypassClassify(lower string, tip *models.Tip, crisis bool) *models.Classification {
	category := models.OffenseOther
	switch {
	case bypassAny(lower, []string{"trafficking", "sold for", "escort", "commercial sex"}):
		category = models.OffenseTrafficking
	case bypassAny(lower, []string{"sextortion", "threatened to share", "blackmail", "demanded money"}):
		category = models.OffenseSextortion
	case bypassAny(lower, []string{"grooming", "groomed", "gift card", "meet in person"}):
		category = models.OffenseGrooming
	case bypassAny(lower, []string{"csam", "abuse material", "explicit image", "explicit video"}) ||
		(tip.HashMatches != nil && tip.HashMatches.AnyKnownCSAM):
		category = models.OffenseCSAM
	}

	severity := models.SeverityP3Medium
	switch {
	case crisis:
		severity = models.SeverityP1Critical
	case category == models.OffenseCSAM || category == models.OffenseTrafficking:
		severity = models.SeverityP2High
	case category == models.OffenseOther:
		severity = models.SeverityP4Low
	}

	return &models.Classification{
		OffenseCategory: category,
		Severity:        severity,
		Confidence:      0.75,
		Rationale:       "keyword heuristic (instant bypass)",
		MinorInvolved:   bypassAny(lower, bypassMinorTerms),
	}
}

func bypassAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func bypassMatches(lower string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if strings.Contains(lower, t) {
			out = append(out, t)
		}
	}
	return out
}

func bypassHandles(body string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range bypassHandleRe.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
