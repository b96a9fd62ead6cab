package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/pipeline"
)

var (
	// ErrQueueClosed is returned once shutdown has stopped the intake side.
	ErrQueueClosed = errors.New("ingest queue closed")
	// ErrQueueFull signals backpressure; callers should surface 503.
	ErrQueueFull = errors.New("ingest queue full")
)

// Worker processes one claimed job end to end.
type Worker func(ctx context.Context, job pipeline.Job) error

// QueueStats is the operational snapshot exposed on /api/stats.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// Queue hands accepted jobs to pipeline workers. Enqueue returns a job ID
// immediately; Drain runs workers until the context dies or Shutdown closes
// the queue and the backlog is empty.
type Queue interface {
	Enqueue(ctx context.Context, job pipeline.Job) (string, error)
	Drain(ctx context.Context, fn Worker, concurrency int)
	Stats() QueueStats
	Shutdown(ctx context.Context) error
}

// queuedJob is the wire envelope: the job plus the ID handed back to the
// submitter for tracking.
type queuedJob struct {
	JobID string       `json:"job_id"`
	Job   pipeline.Job `json:"job"`
}

// MemoryQueue is the default in-process queue: a buffered channel with a
// worker pool. Jobs do not survive a restart; the redis queue covers that.
type MemoryQueue struct {
	mu     sync.RWMutex
	jobs   chan queuedJob
	closed bool
	once   sync.Once
	wg     sync.WaitGroup

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64

	metrics *metrics.Metrics
	logger  *log.Logger
}

func NewMemoryQueue(buffer int, m *metrics.Metrics) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		jobs:    make(chan queuedJob, buffer),
		metrics: m,
		logger:  log.New(log.Writer(), "[Queue] ", log.LstdFlags),
	}
}

// Enqueue accepts a job or reports backpressure. It never blocks: a full
// buffer returns ErrQueueFull so the caller can shed load instead of
// stalling the ingest surface.
func (q *MemoryQueue) Enqueue(_ context.Context, job pipeline.Job) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	qj := queuedJob{JobID: uuid.New().String(), Job: job}
	select {
	case q.jobs <- qj:
	default:
		return "", ErrQueueFull
	}
	q.total.Add(1)
	q.waiting.Add(1)
	q.gaugeDepth()
	return qj.JobID, nil
}

// Drain starts concurrency workers that pull jobs until the context ends or
// the queue is closed and empty. It returns immediately; Shutdown waits for
// the workers.
func (q *MemoryQueue) Drain(ctx context.Context, fn Worker, concurrency int) {
	if concurrency <= 0 {
		concurrency = 4
	}
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case qj, ok := <-q.jobs:
					if !ok {
						return
					}
					q.run(ctx, fn, qj)
				}
			}
		}()
	}
}

func (q *MemoryQueue) run(ctx context.Context, fn Worker, qj queuedJob) {
	q.waiting.Add(-1)
	q.active.Add(1)
	q.gaugeDepth()
	defer q.active.Add(-1)
	if err := fn(ctx, qj.Job); err != nil {
		q.failed.Add(1)
		q.logger.Printf("⚠️ job %s (tip %s) failed: %v", qj.JobID, qj.Job.TipID, err)
		return
	}
	q.completed.Add(1)
}

func (q *MemoryQueue) Stats() QueueStats {
	return QueueStats{
		Waiting:   q.waiting.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Total:     q.total.Load(),
	}
}

// Shutdown stops intake, lets the workers run the backlog down, and returns
// once they exit or the context gives up waiting.
func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})

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

func (q *MemoryQueue) gaugeDepth() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(q.waiting.Load()))
	}
}
