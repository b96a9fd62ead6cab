package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
)

func TestExtractionPullsEntities(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewExtraction(h)

	tip := &models.Tip{
		TipID:      "tip-ex",
		Source:     models.SourcePublicWebForm,
		RawContent: "A 12-year-old girl is talking to @predator_99 on instagram from 10.1.2.3. It is still happening and she mentioned suicide.",
	}
	entities, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)
	require.NotNil(t, entities)

	require.NotEmpty(t, entities.Victims)
	assert.Equal(t, "12-12", entities.Victims[0].AgeRange)
	assert.True(t, entities.Victims[0].AtImmediateRisk)
	assert.Contains(t, entities.Usernames, "predator_99")
	assert.Contains(t, entities.IPAddresses, "10.1.2.3")
	assert.Contains(t, entities.Platforms, "instagram")
	assert.True(t, entities.OngoingAbuse)
	assert.Contains(t, entities.CrisisIndicators, "suicide")
	assert.NotEmpty(t, entities.Summary)
}

func TestExtractionRejectionLeavesEntitiesUnset(t *testing.T) {
	stub := oracle.NewStubProvider()
	stub.FailNext(models.StepExtraction, 3)
	h, logStore := newTestHarness(stub)
	stage := NewExtraction(h)

	tip := &models.Tip{TipID: "tip-ex-fail", RawContent: "anything"}
	entities, err := stage.Run(context.Background(), tip)
	require.ErrorIs(t, err, agent.ErrOracleExhausted)
	assert.Nil(t, entities)

	entries, err := logStore.ByTip(context.Background(), "tip-ex-fail")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditAgentError, entries[0].Status)
}

func TestExtractionRetriesTransientFailure(t *testing.T) {
	stub := oracle.NewStubProvider()
	stub.FailNext(models.StepExtraction, 2) // third attempt succeeds
	h, _ := newTestHarness(stub)
	stage := NewExtraction(h)

	tip := &models.Tip{TipID: "tip-ex-retry", RawContent: "a child on snapchat"}
	entities, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)
	require.NotNil(t, entities)
	assert.Contains(t, entities.Platforms, "snapchat")
}
