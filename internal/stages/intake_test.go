package stages

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
)

func boolPtr(b bool) *bool { return &b }

func TestNormalizeBody(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "a  b\t\tc", "a b c"},
		{"line wrapping is irrelevant", "line one\nline two", "line one line two"},
		{"strips control chars", "a\x00b\x07c", "abc"},
		{"trims edges", "  padded  ", "padded"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeBody(tc.in))
		})
	}
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	s := "ab€cd" // € is three bytes starting at offset 2
	assert.Equal(t, "ab", truncateUTF8(s, 3))
	assert.Equal(t, "ab", truncateUTF8(s, 4))
	assert.Equal(t, "ab€", truncateUTF8(s, 5))
	assert.Equal(t, s, truncateUTF8(s, 100))
}

func TestBuildTipMapsMetadata(t *testing.T) {
	received := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := models.RawTipInput{
		Source:      models.SourcePartnerPortal,
		RawContent:  "narrative   with\nwrapped lines",
		ContentType: models.ContentText,
		ReceivedAt:  received,
		Metadata: &models.RawTipMetadata{
			NCMECNumber:  "CT-2025-001",
			CaseNumber:   "LOCAL-77",
			ReporterType: models.ReporterNCMEC,
			ESPName:      "Google",
			UrgentFlag:   true,
			Files: []models.RawFile{
				{Filename: "a.jpg", MediaType: models.MediaImage, SHA256: "abc", ESPViewed: boolPtr(true)},
				{FileID: "custom", Filename: "b.mp4"},
			},
		},
	}

	tip := BuildTip("tip-1", "fp-1", raw)

	assert.Equal(t, "tip-1", tip.TipID)
	assert.Equal(t, "fp-1", tip.Fingerprint)
	assert.Equal(t, models.StatusPending, tip.Status)
	assert.Equal(t, received, tip.ReceivedAt)
	assert.Equal(t, "narrative with wrapped lines", tip.NormalizedBody)
	assert.Equal(t, "CT-2025-001", tip.NCMECNumber)
	assert.Equal(t, "LOCAL-77", tip.CaseNumber)
	assert.True(t, tip.UrgentFlag)
	assert.Equal(t, models.ReporterNCMEC, tip.Reporter.Type)
	assert.Equal(t, "Google", tip.Reporter.ESPName)
	assert.Equal(t, models.JurisdictionFederal, tip.Jurisdiction.Primary)

	require.Len(t, tip.Files, 2)
	assert.Equal(t, "f-1", tip.Files[0].FileID)
	assert.True(t, tip.Files[0].ESPViewed)
	assert.False(t, tip.Files[0].ESPViewedMissing)
	assert.Equal(t, "custom", tip.Files[1].FileID)
	assert.True(t, tip.Files[1].ESPViewedMissing, "absent esp_viewed marks the file missing")
	assert.Equal(t, models.MediaOther, tip.Files[1].MediaType)
}

func TestBuildTipReporterDefaults(t *testing.T) {
	cases := []struct {
		source models.Source
		want   models.ReporterType
	}{
		{models.SourcePartnerPortal, models.ReporterESP},
		{models.SourcePartnerAPI, models.ReporterESP},
		{models.SourceInterAgency, models.ReporterAgency},
		{models.SourceEmail, models.ReporterPublic},
		{models.SourcePublicWebForm, models.ReporterPublic},
	}
	for _, tc := range cases {
		t.Run(string(tc.source), func(t *testing.T) {
			tip := BuildTip("t", "f", models.RawTipInput{
				Source: tc.source, RawContent: "x", ContentType: models.ContentText,
			})
			assert.Equal(t, tc.want, tip.Reporter.Type)
		})
	}
}

func TestBuildTipJurisdiction(t *testing.T) {
	intl := BuildTip("t", "f", models.RawTipInput{
		Source: models.SourcePartnerAPI, RawContent: "x", ContentType: models.ContentText,
		Metadata: &models.RawTipMetadata{Country: "Philippines", State: "CA"},
	})
	assert.Equal(t, models.JurisdictionInternational, intl.Jurisdiction.Primary)
	assert.Equal(t, []string{"Philippines"}, intl.Jurisdiction.Countries)

	state := BuildTip("t", "f", models.RawTipInput{
		Source: models.SourcePublicWebForm, RawContent: "x", ContentType: models.ContentText,
		Metadata: &models.RawTipMetadata{Country: "US", State: "TX"},
	})
	assert.Equal(t, models.JurisdictionState, state.Jurisdiction.Primary)
	assert.Equal(t, "TX", state.Jurisdiction.State)

	unknown := BuildTip("t", "f", models.RawTipInput{
		Source: models.SourcePublicWebForm, RawContent: "x", ContentType: models.ContentText,
	})
	assert.Equal(t, models.JurisdictionUnknown, unknown.Jurisdiction.Primary)
}

func TestBuildTipTruncatesOversizedBody(t *testing.T) {
	raw := models.RawTipInput{
		Source:      models.SourceEmail,
		RawContent:  strings.Repeat("a", MaxRawBodyBytes+500),
		ContentType: models.ContentText,
	}
	tip := BuildTip("t", "f", raw)
	assert.Len(t, tip.RawContent, MaxRawBodyBytes)
}

func TestBuildTipBundleDefaultsCount(t *testing.T) {
	tip := BuildTip("t", "f", models.RawTipInput{
		Source: models.SourcePartnerAPI, RawContent: "x", ContentType: models.ContentText,
		Metadata: &models.RawTipMetadata{IsBundled: true},
	})
	assert.True(t, tip.IsBundled)
	assert.Equal(t, 1, tip.BundledIncidentCount)
}

func TestEmbeddedMetadataFromJSONPayload(t *testing.T) {
	envelope := `{"metadata":{"ncmec_number":"CT-9","esp_name":"Snapchat"},"narrative":"..."}`
	tip := BuildTip("t", "f", models.RawTipInput{
		Source: models.SourcePartnerAPI, RawContent: envelope, ContentType: models.ContentJSON,
	})
	assert.Equal(t, "CT-9", tip.NCMECNumber)
	assert.Equal(t, "Snapchat", tip.Reporter.ESPName)

	flat := `{"ncmec_number":"CT-10","files":[{"sha256":"aa"}]}`
	tip = BuildTip("t", "f", models.RawTipInput{
		Source: models.SourcePartnerAPI, RawContent: flat, ContentType: models.ContentJSON,
	})
	assert.Equal(t, "CT-10", tip.NCMECNumber)
	assert.Len(t, tip.Files, 1)

	// Prose that happens to be JSON-invalid stays narrative-only.
	tip = BuildTip("t", "f", models.RawTipInput{
		Source: models.SourcePublicWebForm, RawContent: "just text", ContentType: models.ContentJSON,
	})
	assert.Empty(t, tip.NCMECNumber)
	assert.Empty(t, tip.Files)
}

func TestIntakeRunAttachesSummary(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewIntake(h)

	raw := models.RawTipInput{
		Source:      models.SourcePublicWebForm,
		RawContent:  "A person reported seeing abuse on instagram.",
		ContentType: models.ContentText,
	}
	tip, err := stage.Run(context.Background(), "tip-1", "fp", raw)
	require.NoError(t, err)
	assert.Contains(t, tip.NormalizedBody, "A person reported")
}

func TestIntakeRunKeepsDeterministicBodyOnOracleFailure(t *testing.T) {
	stub := oracle.NewStubProvider()
	stub.FailNext(models.StepIntake, 3)
	h, logStore := newTestHarness(stub)
	stage := NewIntake(h)

	raw := models.RawTipInput{
		Source:      models.SourcePublicWebForm,
		RawContent:  "some   narrative",
		ContentType: models.ContentText,
	}
	tip, err := stage.Run(context.Background(), "tip-err", "fp", raw)
	require.NoError(t, err, "intake construction is deterministic and never fails")
	assert.Equal(t, "some narrative", tip.NormalizedBody)

	entries, err := logStore.ByTip(context.Background(), "tip-err")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditAgentError, entries[0].Status)
}
