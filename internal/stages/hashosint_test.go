package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/circuitbreaker"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
	"github.com/tipline/backend/internal/watchlist"
)

type failingHashDB struct{ err error }

func (f failingHashDB) Lookup(context.Context, models.TipFile) (models.FileMatchResult, error) {
	return models.FileMatchResult{}, f.err
}
func (f failingHashDB) Name() string { return "failing" }

func seededHashDB() *watchlist.MemoryHashDB {
	db := watchlist.NewMemoryHashDB("test")
	db.Seed("aaa111", "", models.FileMatchResult{
		NCMECMatch:        true,
		ProjectVICMatch:   true,
		KnownVictimSeries: true,
		AIGConfidence:     0.9,
	})
	return db
}

func hashTip() *models.Tip {
	return &models.Tip{
		TipID:          "tip-hash",
		NormalizedBody: "two files attached to an ESP report",
		Files: []models.TipFile{
			{FileID: "f1", SHA256: "aaa111"},
			{FileID: "f2", SHA256: "zzz999"},
			{FileID: "f3"}, // no hashes at all
		},
	}
}

func TestHashOSINTVerdicts(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewHashOSINT(h, seededHashDB(), nil, nil)

	tip := hashTip()
	hm, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)
	require.NotNil(t, hm)
	require.Len(t, hm.PerFile, 3)

	known := hm.PerFile["f1"]
	assert.True(t, known.NCMECMatch)
	assert.True(t, known.KnownVictimSeries)
	assert.False(t, known.NovelMaterial)
	assert.ElementsMatch(t, []string{"ncmec", "project_vic"}, known.MatchedDatabases)

	assert.True(t, hm.PerFile["f2"].NovelMaterial)
	assert.True(t, hm.PerFile["f3"].NovelMaterial, "unhashed file counts as novel")

	assert.True(t, hm.AnyKnownCSAM)
	assert.True(t, hm.AnyNovel)
	assert.Equal(t, "no actionable open-source leads", hm.OSINTSummary)
}

func TestFoldHashVerdicts(t *testing.T) {
	tip := hashTip()
	hm := &models.HashMatches{PerFile: map[string]models.FileMatchResult{
		"f1": {FileID: "f1", NCMECMatch: true, IWFMatch: true, AIGConfidence: 0.85},
		"f2": {FileID: "f2", NovelMaterial: true, AIGConfidence: 0.5},
	}}

	FoldHashVerdicts(tip, hm)

	f1 := tip.FileByID("f1")
	assert.True(t, f1.NCMECMatch)
	assert.True(t, f1.IWFMatch)
	assert.True(t, f1.AIGSuspected, "0.85 clears the suspect threshold")
	assert.False(t, f1.NovelMaterial)

	f2 := tip.FileByID("f2")
	assert.True(t, f2.NovelMaterial)
	assert.False(t, f2.AIGSuspected)

	// f3 had no verdict; untouched.
	assert.False(t, tip.FileByID("f3").NovelMaterial)

	FoldHashVerdicts(tip, nil) // nil verdicts are a no-op
	assert.True(t, tip.FileByID("f1").NCMECMatch)
}

func TestHashOSINTFallsBackToOfflineSnapshot(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	breaker := circuitbreaker.NewUpstreamBreakers().HashDB
	primary := failingHashDB{err: errors.New("connection refused")}
	stage := NewHashOSINT(h, primary, seededHashDB(), breaker)

	tip := &models.Tip{
		TipID: "tip-offline",
		Files: []models.TipFile{{FileID: "f1", SHA256: "aaa111"}},
	}
	hm, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)
	assert.True(t, hm.PerFile["f1"].NCMECMatch, "offline snapshot answered the lookup")
	assert.True(t, hm.AnyKnownCSAM)
}

func TestHashOSINTRejectsWhenEveryLookupFails(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewHashOSINT(h, failingHashDB{err: errors.New("down")}, nil, nil)

	tip := &models.Tip{
		TipID: "tip-alldown",
		Files: []models.TipFile{{FileID: "f1", SHA256: "aaa111"}},
	}
	hm, err := stage.Run(context.Background(), tip)
	require.Error(t, err)
	assert.Nil(t, hm)
}

func TestHashOSINTKeepsVerdictsWhenOSINTOracleFails(t *testing.T) {
	stub := oracle.NewStubProvider()
	stub.FailNext(models.StepHashOSINT, 3)
	h, _ := newTestHarness(stub)
	stage := NewHashOSINT(h, seededHashDB(), nil, nil)

	tip := hashTip()
	hm, err := stage.Run(context.Background(), tip)
	require.NoError(t, err)
	require.NotNil(t, hm)
	assert.True(t, hm.AnyKnownCSAM)
	assert.Empty(t, hm.OSINTSummary)
}

func TestHashOSINTNoFiles(t *testing.T) {
	stub := oracle.NewStubProvider()
	h, _ := newTestHarness(stub)
	stage := NewHashOSINT(h, seededHashDB(), nil, nil)

	hm, err := stage.Run(context.Background(), &models.Tip{TipID: "tip-nofiles", NormalizedBody: "text only"})
	require.NoError(t, err)
	assert.Empty(t, hm.PerFile)
	assert.False(t, hm.AnyKnownCSAM)
}
