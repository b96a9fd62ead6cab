package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/pipeline"
)

const (
	defaultRedisQueueKey = "tipline:jobs"
	redisPollInterval    = time.Second
)

// RedisQueue is the durable queue for queue_mode=redis: jobs survive a
// process restart because the backlog lives in a redis list. Workers block
// on BRPOP so a pushed job is picked up without polling lag.
type RedisQueue struct {
	rdb    *redis.Client
	key    string
	closed atomic.Bool
	wg     sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64

	metrics *metrics.Metrics
	logger  *log.Logger
}

func NewRedisQueue(rdb *redis.Client, key string, m *metrics.Metrics) *RedisQueue {
	if key == "" {
		key = defaultRedisQueueKey
	}
	return &RedisQueue{
		rdb:     rdb,
		key:     key,
		metrics: m,
		logger:  log.New(log.Writer(), "[Queue] ", log.LstdFlags),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job pipeline.Job) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}
	qj := queuedJob{JobID: uuid.New().String(), Job: job}
	payload, err := json.Marshal(qj)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	q.total.Add(1)
	q.gaugeDepth(ctx)
	return qj.JobID, nil
}

func (q *RedisQueue) Drain(ctx context.Context, fn Worker, concurrency int) {
	if concurrency <= 0 {
		concurrency = 4
	}
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				res, err := q.rdb.BRPop(ctx, redisPollInterval, q.key).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						// Empty poll. After shutdown an empty list means
						// the backlog is drained.
						if q.closed.Load() {
							return
						}
						continue
					}
					if ctx.Err() != nil {
						return
					}
					q.logger.Printf("⚠️ queue pop failed: %v", err)
					time.Sleep(redisPollInterval)
					continue
				}
				var qj queuedJob
				if err := json.Unmarshal([]byte(res[1]), &qj); err != nil {
					q.failed.Add(1)
					q.logger.Printf("⚠️ discarding malformed job payload: %v", err)
					continue
				}
				q.run(ctx, fn, qj)
			}
		}()
	}
}

func (q *RedisQueue) run(ctx context.Context, fn Worker, qj queuedJob) {
	q.active.Add(1)
	defer q.active.Add(-1)
	q.gaugeDepth(ctx)
	if err := fn(ctx, qj.Job); err != nil {
		q.failed.Add(1)
		q.logger.Printf("⚠️ job %s (tip %s) failed: %v", qj.JobID, qj.Job.TipID, err)
		return
	}
	q.completed.Add(1)
}

func (q *RedisQueue) Stats() QueueStats {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	waiting, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		waiting = 0
	}
	return QueueStats{
		Waiting:   waiting,
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Total:     q.total.Load(),
	}
}

// Shutdown stops intake and waits for workers to drain the redis backlog.
// Jobs still in the list when the context expires stay there for the next
// process to pick up.
func (q *RedisQueue) Shutdown(ctx context.Context) error {
	q.closed.Store(true)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Printf("queue drained: %d completed, %d failed", q.completed.Load(), q.failed.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *RedisQueue) gaugeDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	if n, err := q.rdb.LLen(ctx, q.key).Result(); err == nil {
		q.metrics.QueueDepth.Set(float64(n))
	}
}
