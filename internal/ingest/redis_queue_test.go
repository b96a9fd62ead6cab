package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/pipeline"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisQueueRoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	q := NewRedisQueue(rdb, "test:jobs", nil)

	jobID, err := q.Enqueue(context.Background(), testJob("t1"))
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	_, err = q.Enqueue(context.Background(), testJob("t2"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), q.Stats().Waiting)

	var mu sync.Mutex
	seen := make(map[string]string)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Drain(ctx, func(_ context.Context, job pipeline.Job) error {
		mu.Lock()
		seen[job.TipID] = job.Fingerprint
		mu.Unlock()
		return nil
	}, 2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "fp-t1", seen["t1"], "payload should round-trip through redis intact")
	mu.Unlock()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, q.Shutdown(shutdownCtx))

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(0), stats.Waiting)
}

func TestRedisQueueBacklogSurvivesRestart(t *testing.T) {
	rdb := newTestRedis(t)

	first := NewRedisQueue(rdb, "test:jobs", nil)
	_, err := first.Enqueue(context.Background(), testJob("orphan"))
	require.NoError(t, err)

	// A fresh queue over the same key stands in for a restarted process.
	second := NewRedisQueue(rdb, "test:jobs", nil)
	assert.Equal(t, int64(1), second.Stats().Waiting)

	got := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	second.Drain(ctx, func(_ context.Context, job pipeline.Job) error {
		got <- job.TipID
		return nil
	}, 1)

	select {
	case tipID := <-got:
		assert.Equal(t, "orphan", tipID)
	case <-time.After(5 * time.Second):
		t.Fatal("backlogged job was never delivered")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, second.Shutdown(shutdownCtx))
}

func TestRedisQueueDiscardsMalformedPayload(t *testing.T) {
	rdb := newTestRedis(t)
	q := NewRedisQueue(rdb, "test:jobs", nil)

	require.NoError(t, rdb.LPush(context.Background(), "test:jobs", "not-json").Err())
	_, err := q.Enqueue(context.Background(), testJob("good"))
	require.NoError(t, err)

	got := make(chan string, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Drain(ctx, func(_ context.Context, job pipeline.Job) error {
		got <- job.TipID
		return nil
	}, 1)

	select {
	case tipID := <-got:
		assert.Equal(t, "good", tipID)
	case <-time.After(5 * time.Second):
		t.Fatal("valid job behind a malformed payload was never delivered")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, q.Shutdown(shutdownCtx))
	assert.Equal(t, int64(1), q.Stats().Failed)
}
