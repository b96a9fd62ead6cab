package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/models"
)

type clusterStore struct {
	tipMap
	recent []*models.Tip
}

func newClusterStore(tips ...*models.Tip) *clusterStore {
	return &clusterStore{tipMap: tipMap{tips: make(map[string]*models.Tip)}, recent: tips}
}

func (s *clusterStore) Recent(_ context.Context, _ time.Time) ([]*models.Tip, error) {
	return s.recent, nil
}

func clusteredTip(id string, tier models.Tier, username string) *models.Tip {
	return &models.Tip{
		TipID:    id,
		Status:   models.StatusTriaged,
		Entities: &models.ExtractedEntities{Usernames: []string{username}},
		Priority: &models.Priority{Tier: tier, Score: 50},
	}
}

func TestClusterScanFlagsAndEscalates(t *testing.T) {
	a := clusteredTip("tip-a", models.TierStandard, "Ring_Leader")
	b := clusteredTip("tip-b", models.TierMonitor, "ring_leader")
	c := clusteredTip("tip-c", models.TierImmediate, "ring_leader")
	store := newClusterStore(a, b, c)
	auditLog := audit.NewMemoryLog()

	report, err := NewScanner(store, auditLog, 0).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Clusters)
	assert.Equal(t, 2, report.Escalations)
	assert.Empty(t, report.Errors)
	assert.NotEmpty(t, report.ScanID)

	for _, id := range []string{"tip-a", "tip-b", "tip-c"} {
		saved := store.get(id)
		require.NotNil(t, saved, "every cluster member should be persisted")
		require.NotNil(t, saved.Links)
		assert.Contains(t, saved.Links.ClusterFlags, "username:ring_leader")
	}

	assert.Equal(t, models.TierUrgent, store.get("tip-a").Priority.Tier)
	assert.Equal(t, models.TierUrgent, store.get("tip-b").Priority.Tier)
	assert.Equal(t, models.TierImmediate, store.get("tip-c").Priority.Tier,
		"IMMEDIATE tips are already at the head of the queue")

	trail, err := auditLog.ByTip(context.Background(), "tip-a")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Contains(t, trail[0].Summary, "cluster escalation")
	assert.Contains(t, trail[0].Summary, "URGENT")
}

func TestClusterScanPairLinksWithoutEscalation(t *testing.T) {
	a := clusteredTip("tip-a", models.TierStandard, "solo_subject")
	b := clusteredTip("tip-b", models.TierStandard, "other_subject")
	a.Files = []models.TipFile{{FileID: "f1", SHA256: "ABCD"}}
	b.Files = []models.TipFile{{FileID: "f2", SHA256: "abcd"}}
	store := newClusterStore(a, b)

	report, err := NewScanner(store, audit.NewMemoryLog(), 0).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Clusters)
	assert.Equal(t, 0, report.Escalations)

	saved := store.get("tip-a")
	require.NotNil(t, saved)
	assert.Contains(t, saved.Links.ClusterFlags, "sha256:abcd")
	assert.Equal(t, models.TierStandard, saved.Priority.Tier)
}

func TestClusterScanLeavesPausedAndDuplicatesAlone(t *testing.T) {
	a := clusteredTip("tip-a", models.TierStandard, "shared_handle")
	b := clusteredTip("tip-b", models.TierStandard, "shared_handle")
	paused := clusteredTip("tip-paused", models.TierPaused, "shared_handle")
	dup := clusteredTip("tip-dup", models.TierStandard, "shared_handle")
	dup.Status = models.StatusDuplicate
	store := newClusterStore(a, b, paused, dup)

	report, err := NewScanner(store, audit.NewMemoryLog(), 0).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Clusters)
	assert.Equal(t, 2, report.Escalations)

	assert.Equal(t, models.TierPaused, store.get("tip-paused").Priority.Tier,
		"a deconfliction hold must never be un-paused by clustering")
	assert.Contains(t, store.get("tip-paused").Links.ClusterFlags, "username:shared_handle")
	assert.Nil(t, store.get("tip-dup"), "duplicates are excluded from clustering entirely")
}

func TestClusterScanIsIdempotent(t *testing.T) {
	a := clusteredTip("tip-a", models.TierStandard, "repeat_handle")
	b := clusteredTip("tip-b", models.TierStandard, "repeat_handle")
	store := newClusterStore(a, b)
	scanner := NewScanner(store, audit.NewMemoryLog(), 0)

	_, err := scanner.Run(context.Background())
	require.NoError(t, err)
	_, err = scanner.Run(context.Background())
	require.NoError(t, err)

	saved := store.get("tip-a")
	require.NotNil(t, saved)
	assert.Len(t, saved.Links.ClusterFlags, 1, "re-scanning must not stack duplicate flags")
}
