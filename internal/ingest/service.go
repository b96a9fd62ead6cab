package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/pipeline"
	"github.com/tipline/backend/internal/stages"
)

// ErrInvalidInput wraps validation failures so the HTTP layer can map them
// to a 400 without inspecting validator internals.
var ErrInvalidInput = errors.New("invalid tip input")

// TipSaver is the slice of the repository the ingest surface needs: it only
// ever writes duplicate records.
type TipSaver interface {
	Upsert(ctx context.Context, tip *models.Tip) error
}

// SubmitResult reports what happened to one submission.
type SubmitResult struct {
	TipID       string `json:"tip_id"`
	JobID       string `json:"job_id,omitempty"`
	Duplicate   bool   `json:"duplicate"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// Service validates submissions, claims their fingerprint, and either
// enqueues a pipeline job or records the submission as a duplicate of the
// canonical tip. Duplicates are stored with their own tip ID and a pointer
// to the canonical record; they are never enqueued.
type Service struct {
	validate *validator.Validate
	claims   Claims
	queue    Queue
	store    TipSaver
	auditLog audit.Log
	metrics  *metrics.Metrics
	logger   *log.Logger
}

func NewService(claims Claims, queue Queue, store TipSaver, auditLog audit.Log, m *metrics.Metrics) *Service {
	return &Service{
		validate: validator.New(),
		claims:   claims,
		queue:    queue,
		store:    store,
		auditLog: auditLog,
		metrics:  m,
		logger:   log.New(log.Writer(), "[Ingest] ", log.LstdFlags),
	}
}

// Submit runs the intake path for one raw submission. The returned result
// distinguishes an accepted job from a recorded duplicate; an error means
// the submission was not recorded at all and the caller may retry.
func (s *Service) Submit(ctx context.Context, raw models.RawTipInput) (SubmitResult, error) {
	if err := s.validate.Struct(raw); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now().UTC()
	}

	fingerprint := Fingerprint(raw)
	tipID := uuid.New().String()

	canonical, fresh, err := s.claims.Claim(ctx, fingerprint, tipID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("claim fingerprint: %w", err)
	}
	if !fresh {
		return s.recordDuplicate(ctx, tipID, fingerprint, canonical, raw)
	}

	jobID, err := s.queue.Enqueue(ctx, pipeline.Job{TipID: tipID, Fingerprint: fingerprint, Raw: raw})
	if err != nil {
		// The fingerprint must not stay claimed by a tip that never ran.
		if relErr := s.claims.Release(ctx, fingerprint, tipID); relErr != nil {
			s.logger.Printf("⚠️ release claim for %s: %v", tipID, relErr)
		}
		return SubmitResult{}, err
	}

	s.metrics.RecordIngest(string(raw.Source))
	s.logger.Printf("📨 accepted %s from %s (job %s)", tipID, raw.Source, jobID)
	return SubmitResult{TipID: tipID, JobID: jobID}, nil
}

func (s *Service) recordDuplicate(ctx context.Context, tipID, fingerprint, canonicalID string, raw models.RawTipInput) (SubmitResult, error) {
	s.logger.Printf("duplicate fingerprint %.12s.. resolves to %s", fingerprint, canonicalID)

	dup := stages.BuildTip(tipID, fingerprint, raw)
	dup.Status = models.StatusDuplicate
	dup.Links = &models.Links{DuplicateOf: canonicalID}
	if err := s.store.Upsert(ctx, dup); err != nil {
		return SubmitResult{}, fmt.Errorf("store duplicate %s: %w", tipID, err)
	}

	// One informational entry on the duplicate itself. The canonical tip's
	// trail stays untouched.
	if s.auditLog != nil {
		entry := audit.NewEntry(tipID, models.AgentOrch, models.AuditInfo,
			fmt.Sprintf("duplicate of %s; pipeline not run", canonicalID))
		if err := s.auditLog.Append(ctx, entry); err != nil {
			s.logger.Printf("⚠️ audit append failed for %s: %v", tipID, err)
		}
	}
	if s.metrics != nil {
		s.metrics.TipsDuplicate.Inc()
	}
	return SubmitResult{TipID: tipID, Duplicate: true, DuplicateOf: canonicalID}, nil
}
