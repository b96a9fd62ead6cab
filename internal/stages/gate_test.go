package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
	"github.com/tipline/backend/internal/wilson"
)

func gateTip(state string, files ...models.TipFile) *models.Tip {
	return &models.Tip{
		TipID:          "tip-gate",
		Source:         models.SourcePartnerPortal,
		NormalizedBody: "ESP reported an account sharing abuse material.",
		Jurisdiction:   models.Jurisdiction{Primary: models.JurisdictionState, State: state},
		Files:          files,
	}
}

func TestWilsonGateViewedFileIsAccessible(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewWilsonGate(h, legal.NewReference(nil))

	tip := gateTip("CA", models.TipFile{FileID: "f1", ESPViewed: true})
	ls, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)

	assert.False(t, tip.Files[0].WarrantRequired)
	assert.False(t, tip.Files[0].FileAccessBlocked)
	assert.True(t, ls.AnyFilesAccessible)
	assert.Empty(t, ls.WarrantRequiredFiles)
	assert.Equal(t, "9th", ls.RelevantCircuit)
	assert.Contains(t, ls.LegalNote, "Wilson", "strict-circuit note cites the controlling precedent")
	assert.InDelta(t, 0.95, ls.Confidence, 0.001, "stub reports high confidence for strict circuits")
	assert.False(t, ls.ExigentCircumstancesClaimed)
}

func TestWilsonGateUnviewedFileBlocks(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewWilsonGate(h, legal.NewReference(nil))

	tip := gateTip("CA", models.TipFile{FileID: "f1", ESPViewedMissing: true})
	ls, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)

	assert.True(t, tip.Files[0].WarrantRequired)
	assert.True(t, tip.Files[0].FileAccessBlocked)
	assert.Equal(t, models.WarrantPendingApplication, tip.Files[0].WarrantStatus)
	assert.Equal(t, []string{"f1"}, ls.WarrantRequiredFiles)
	assert.False(t, ls.AnyFilesAccessible)
	assert.False(t, ls.AllWarrantsResolved)
}

func TestWilsonGateExigentHint(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewWilsonGate(h, legal.NewReference(nil))

	tip := gateTip("TX", models.TipFile{FileID: "f1", ESPViewed: true})
	tip.NormalizedBody = "The subject said he is meeting tonight with the child."
	ls, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)
	assert.True(t, ls.ExigentPossible)
	assert.False(t, ls.ExigentCircumstancesClaimed, "the pipeline never claims exigency itself")
}

func TestWilsonGateOracleExhaustionFailsSafe(t *testing.T) {
	stub := oracle.NewStubProvider()
	stub.FailNext(models.StepWilsonGate, 3)
	h, logStore := newTestHarness(stub)
	stage := NewWilsonGate(h, legal.NewReference(nil))

	tip := gateTip("CA",
		models.TipFile{FileID: "f1", ESPViewed: true},
		models.TipFile{FileID: "f2", ESPViewedMissing: true},
	)
	ls, err := stage.Run(context.Background(), tip)
	require.ErrorIs(t, err, agent.ErrOracleExhausted)

	// Every file is held, including the one the ESP viewed.
	for _, f := range tip.Files {
		assert.True(t, f.WarrantRequired, f.FileID)
		assert.True(t, f.FileAccessBlocked, f.FileID)
		assert.Equal(t, models.WarrantPendingApplication, f.WarrantStatus, f.FileID)
	}
	assert.False(t, ls.AnyFilesAccessible)
	assert.Contains(t, ls.LegalNote, "manual review")
	assert.Zero(t, ls.Confidence)
	assert.Equal(t, "9th", ls.RelevantCircuit)
	assert.True(t, wilson.HardStop(*ls, len(tip.Files)))

	entries, err := logStore.ByTip(context.Background(), "tip-gate")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AgentLegalGate, entries[0].Agent)
	assert.Equal(t, models.AuditAgentError, entries[0].Status)
}

func TestWilsonGateNoFilesNeverHardStops(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewWilsonGate(h, legal.NewReference(nil))

	tip := gateTip("NY")
	ls, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)
	assert.False(t, wilson.HardStop(*ls, len(tip.Files)))
	assert.True(t, ls.AllWarrantsResolved, "no files means nothing unresolved")
}
