package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
)

// MaxRawBodyBytes bounds the stored narrative. Oversized submissions are
// truncated at intake and the remainder is discarded.
const MaxRawBodyBytes = 64 << 10

const intakeSystem = `You are the intake normalizer for a law-enforcement tip triage system.
Summarize the reported incident in plain English, preserving every concrete fact:
names, handles, platforms, ages, locations, times, and what is alleged to have happened.
Do not speculate or add information. Respond with a JSON object: {"summary": string}.`

// NormalizeBody canonicalizes a narrative for fingerprinting and display.
// Control characters are dropped and whitespace runs collapse to one space,
// so re-deliveries that only differ in line wrapping normalize identically.
func NormalizeBody(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// BuildTip deterministically constructs the initial tip aggregate from a raw
// submission. No oracle is involved; this succeeds for any input that passed
// ingestion validation.
func BuildTip(tipID, fingerprint string, raw models.RawTipInput) *models.Tip {
	now := time.Now().UTC()
	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	md := embeddedMetadata(raw)
	reporter := resolveReporter(raw.Source, md)
	body := truncateUTF8(raw.RawContent, MaxRawBodyBytes)

	tip := &models.Tip{
		TipID:          tipID,
		Source:         raw.Source,
		ReceivedAt:     receivedAt.UTC(),
		UpdatedAt:      now,
		Status:         models.StatusPending,
		RawContent:     body,
		NormalizedBody: NormalizeBody(body),
		ContentType:    raw.ContentType,
		Fingerprint:    fingerprint,
		Reporter:       reporter,
		Jurisdiction:   deriveJurisdiction(md, reporter),
		Files:          buildFiles(md),
	}
	if md != nil {
		tip.NCMECNumber = md.NCMECNumber
		tip.CaseNumber = md.CaseNumber
		tip.UrgentFlag = md.UrgentFlag
		tip.IsBundled = md.IsBundled
		tip.BundledIncidentCount = md.BundledIncidentCount
		if tip.IsBundled && tip.BundledIncidentCount == 0 {
			tip.BundledIncidentCount = 1
		}
	}
	return tip
}

// embeddedMetadata recovers structured fields from a JSON payload whose
// adapter did not split metadata out. Both {"metadata": {...}} envelopes and
// flat objects are accepted; anything unparseable stays narrative-only.
func embeddedMetadata(raw models.RawTipInput) *models.RawTipMetadata {
	if raw.Metadata != nil || raw.ContentType != models.ContentJSON {
		return raw.Metadata
	}
	var envelope struct {
		Metadata *models.RawTipMetadata `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(raw.RawContent), &envelope); err == nil && envelope.Metadata != nil {
		return envelope.Metadata
	}
	var flat models.RawTipMetadata
	if err := json.Unmarshal([]byte(raw.RawContent), &flat); err == nil {
		if flat.NCMECNumber != "" || flat.CaseNumber != "" || flat.ESPName != "" || len(flat.Files) > 0 {
			return &flat
		}
	}
	return nil
}

func resolveReporter(src models.Source, md *models.RawTipMetadata) models.Reporter {
	r := models.Reporter{}
	if md != nil {
		r.Type = md.ReporterType
		r.ESPName = md.ESPName
		r.Country = md.Country
	}
	if r.Type == "" {
		switch src {
		case models.SourcePartnerPortal, models.SourcePartnerAPI:
			r.Type = models.ReporterESP
		case models.SourceInterAgency:
			r.Type = models.ReporterAgency
		default:
			r.Type = models.ReporterPublic
		}
	}
	return r
}

func domesticCountry(c string) bool {
	switch strings.ToUpper(strings.TrimSpace(c)) {
	case "", "US", "USA", "UNITED STATES":
		return true
	}
	return false
}

func deriveJurisdiction(md *models.RawTipMetadata, reporter models.Reporter) models.Jurisdiction {
	if md != nil {
		if c := strings.TrimSpace(md.Country); c != "" && !domesticCountry(c) {
			return models.Jurisdiction{
				Primary:   models.JurisdictionInternational,
				Countries: []string{c},
			}
		}
		if st := strings.TrimSpace(md.State); st != "" {
			return models.Jurisdiction{Primary: models.JurisdictionState, State: st}
		}
	}
	switch reporter.Type {
	case models.ReporterNCMEC, models.ReporterESP:
		return models.Jurisdiction{Primary: models.JurisdictionFederal}
	}
	return models.Jurisdiction{Primary: models.JurisdictionUnknown}
}

func buildFiles(md *models.RawTipMetadata) []models.TipFile {
	if md == nil || len(md.Files) == 0 {
		return nil
	}
	files := make([]models.TipFile, 0, len(md.Files))
	for i, rf := range md.Files {
		f := models.TipFile{
			FileID:            rf.FileID,
			Filename:          rf.Filename,
			MediaType:         rf.MediaType,
			SizeBytes:         rf.SizeBytes,
			MD5:               rf.MD5,
			SHA1:              rf.SHA1,
			SHA256:            rf.SHA256,
			PhotoDNA:          rf.PhotoDNA,
			PubliclyAvailable: rf.PubliclyAvailable,
		}
		if f.FileID == "" {
			f.FileID = fmt.Sprintf("f-%d", i+1)
		}
		if f.MediaType == "" {
			f.MediaType = models.MediaOther
		}
		if rf.ESPViewed != nil {
			f.ESPViewed = *rf.ESPViewed
		} else {
			f.ESPViewedMissing = true
		}
		files = append(files, f)
	}
	return files
}

// Intake produces the initial Tip and asks the fast oracle band for a
// normalized summary of the narrative.
type Intake struct {
	harness *agent.Harness
	logger  *log.Logger
}

// NewIntake wires the intake stage.
func NewIntake(h *agent.Harness) *Intake {
	return &Intake{
		harness: h,
		logger:  log.New(log.Writer(), "[Intake] ", log.LstdFlags),
	}
}

// Run builds the tip and attaches the oracle's normalized summary. The
// deterministic construction always succeeds; a failed summary call keeps the
// mechanically normalized body, so the only returned error is cancellation.
func (s *Intake) Run(ctx context.Context, tipID, fingerprint string, raw models.RawTipInput) (*models.Tip, error) {
	tip := BuildTip(tipID, fingerprint, raw)

	var out struct {
		Summary string `json:"summary"`
	}
	_, err := s.harness.InvokeJSON(ctx, tipID, agent.InvokeRequest{
		Agent:     models.AgentIntake,
		Stage:     models.StepIntake,
		Band:      oracle.BandFast,
		MaxTokens: 300,
		System:    intakeSystem,
		Context:   fmt.Sprintf("source: %s\ncontent_type: %s", raw.Source, raw.ContentType),
		Untrusted: tip.NormalizedBody,
	}, &out)
	if err != nil {
		if ctx.Err() != nil {
			return tip, ctx.Err()
		}
		s.logger.Printf("⚠️ intake summary unavailable for %s: %v", tipID, err)
		return tip, nil
	}
	if sum := strings.TrimSpace(out.Summary); sum != "" {
		tip.NormalizedBody = sum
	}
	return tip, nil
}
