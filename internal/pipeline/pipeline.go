// Package pipeline runs the triage DAG for one tip: intake, the Wilson gate,
// two parallel enrichment pairs, then priority scoring. The orchestrator owns
// fault policy. The gate is the only stage allowed to halt a tip; every other
// rejection is recorded in the audit trail and the run continues with that
// enrichment left unset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/events"
	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/priority"
	"github.com/tipline/backend/internal/stages"
	"github.com/tipline/backend/internal/wilson"
)

// Job is one claimed unit of work handed to the pipeline by the queue.
type Job struct {
	TipID       string             `json:"tip_id"`
	Fingerprint string             `json:"fingerprint"`
	Raw         models.RawTipInput `json:"raw"`
}

// Store persists finished tip aggregates. The tip repository satisfies it.
type Store interface {
	Upsert(ctx context.Context, tip *models.Tip) error
}

// Stages bundles the seven stage implementations in DAG order.
type Stages struct {
	Intake     *stages.Intake
	Gate       *stages.WilsonGate
	Extraction *stages.Extraction
	HashOSINT  *stages.HashOSINT
	Classifier *stages.Classifier
	Linker     *stages.Linker
	Priority   *stages.Priority
}

// Config bounds one tip's run. The gate gets twice the stage budget because
// it is the compliance-critical stage.
type Config struct {
	StageTimeout time.Duration
	TipTimeout   time.Duration
	DemoMode     bool
}

// Pipeline executes the triage DAG and persists the outcome.
type Pipeline struct {
	stages  Stages
	store   Store
	audit   audit.Log
	bus     *events.Bus
	metrics *metrics.Metrics
	cfg     Config
	logger  *log.Logger
}

// New wires a pipeline. store, bus and metrics may be nil in tests.
func New(st Stages, store Store, auditLog audit.Log, bus *events.Bus, m *metrics.Metrics, cfg Config) *Pipeline {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 90 * time.Second
	}
	if cfg.TipTimeout <= 0 {
		cfg.TipTimeout = 10 * time.Minute
	}
	return &Pipeline{
		stages:  st,
		store:   store,
		audit:   auditLog,
		bus:     bus,
		metrics: m,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[Pipeline] ", log.LstdFlags),
	}
}

// outcome carries one stage's result across a parallel join.
type outcome[T any] struct {
	value    T
	err      error
	duration time.Duration
}

// runStage applies the per-stage budget and converts panics into rejections
// so one crashing stage cannot take down a queue worker.
func runStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (out outcome[T]) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()
	defer func() {
		out.duration = time.Since(started)
		if r := recover(); r != nil {
			out.err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	out.value, out.err = fn(stageCtx)
	return out
}

// Process runs one tip end to end and persists the result. The returned tip
// is non-nil whenever a record was produced, including blocked and
// interrupted runs; the error reports cancellation or persistence faults,
// never individual stage rejections.
func (p *Pipeline) Process(ctx context.Context, job Job) (*models.Tip, error) {
	if p.metrics != nil {
		p.metrics.ActiveTips.Inc()
		defer p.metrics.ActiveTips.Dec()
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TipTimeout)
	defer cancel()

	started := time.Now()
	p.logger.Printf("📥 %s started (source=%s)", job.TipID, job.Raw.Source)
	p.appendAudit(ctx, job.TipID, models.AgentOrch, models.AuditInfo,
		fmt.Sprintf("pipeline started (source=%s)", job.Raw.Source))

	if p.cfg.DemoMode {
		return p.instantBypass(ctx, job, started)
	}

	// Intake. The deterministic build always succeeds; a timed-out summary
	// call keeps the mechanically normalized body and the run continues.
	p.stageStart(ctx, job.TipID, models.StepIntake)
	in := runStage(ctx, p.cfg.StageTimeout, func(c context.Context) (*models.Tip, error) {
		return p.stages.Intake.Run(c, job.TipID, job.Fingerprint, job.Raw)
	})
	p.metrics.RecordStage(models.StepIntake, in.duration, in.err != nil)
	tip := in.value
	if tip == nil {
		tip = stages.BuildTip(job.TipID, job.Fingerprint, job.Raw)
	}
	if in.err != nil && ctx.Err() != nil {
		return p.interrupted(tip, ctx.Err())
	}
	p.appendAudit(ctx, job.TipID, models.AgentIntake, models.AuditSuccess,
		fmt.Sprintf("intake complete: %d file(s), reporter=%s, jurisdiction=%s",
			len(tip.Files), tip.Reporter.Type, tip.Jurisdiction.Primary))
	p.emit(job.TipID, models.StepIntake, models.EventDone, "")

	// Wilson gate. A rejection here is never absorbed: the stage fails safe
	// and the orchestrator hard-stops the tip.
	p.stageStart(ctx, job.TipID, models.StepWilsonGate)
	g := runStage(ctx, 2*p.cfg.StageTimeout, func(c context.Context) (*models.LegalStatus, error) {
		return p.stages.Gate.Run(c, tip)
	})
	p.metrics.RecordStage(models.StepWilsonGate, g.duration, g.err != nil)
	if g.value != nil {
		tip.LegalStatus = g.value
	} else {
		fs := wilson.FailSafe(tip, "legal gate crashed")
		tip.LegalStatus = &fs
	}
	if g.err != nil {
		if ctx.Err() != nil {
			return p.interrupted(tip, ctx.Err())
		}
		return p.hardStop(ctx, tip, g.err)
	}
	if wilson.HardStop(*tip.LegalStatus, len(tip.Files)) {
		return p.hardStop(ctx, tip, nil)
	}
	p.appendAudit(ctx, job.TipID, models.AgentLegalGate, models.AuditSuccess,
		fmt.Sprintf("legal gate complete: circuit=%s, %d warrant-required file(s), confidence %.2f",
			tip.LegalStatus.RelevantCircuit, len(tip.LegalStatus.WarrantRequiredFiles), tip.LegalStatus.Confidence))
	p.emit(job.TipID, models.StepWilsonGate, models.EventDone,
		fmt.Sprintf("accessible_files=%d", tip.AccessibleFileCount()))

	// Extraction and hash/OSINT read the same gated tip concurrently.
	// Neither writes to it; results are folded in after the join.
	p.stageStart(ctx, job.TipID, models.StepExtraction)
	p.stageStart(ctx, job.TipID, models.StepHashOSINT)
	var (
		wg   sync.WaitGroup
		ext  outcome[*models.ExtractedEntities]
		hash outcome[*models.HashMatches]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ext = runStage(ctx, p.cfg.StageTimeout, func(c context.Context) (*models.ExtractedEntities, error) {
			return p.stages.Extraction.Run(c, tip)
		})
	}()
	go func() {
		defer wg.Done()
		hash = runStage(ctx, p.cfg.StageTimeout, func(c context.Context) (*models.HashMatches, error) {
			return p.stages.HashOSINT.Run(c, tip)
		})
	}()
	wg.Wait()
	if ctx.Err() != nil {
		return p.interrupted(tip, ctx.Err())
	}
	if p.settle(ctx, job.TipID, models.StepExtraction, models.AgentExtraction, ext.err, ext.duration,
		extractionSummary(ext.value)) {
		tip.Entities = ext.value
	}
	if p.settle(ctx, job.TipID, models.StepHashOSINT, models.AgentHashOSINT, hash.err, hash.duration,
		hashSummary(hash.value)) {
		tip.HashMatches = hash.value
		stages.FoldHashVerdicts(tip, hash.value)
	}

	// Classifier and linker run over the folded tip.
	p.stageStart(ctx, job.TipID, models.StepClassifier)
	p.stageStart(ctx, job.TipID, models.StepLinker)
	var (
		cls  outcome[*models.Classification]
		link outcome[*models.Links]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cls = runStage(ctx, p.cfg.StageTimeout, func(c context.Context) (*models.Classification, error) {
			return p.stages.Classifier.Run(c, tip)
		})
	}()
	go func() {
		defer wg.Done()
		link = runStage(ctx, p.cfg.StageTimeout, func(c context.Context) (*models.Links, error) {
			return p.stages.Linker.Run(c, tip)
		})
	}()
	wg.Wait()
	if ctx.Err() != nil {
		return p.interrupted(tip, ctx.Err())
	}
	lowConfidence := false
	if p.settle(ctx, job.TipID, models.StepClassifier, models.AgentClassifier, cls.err, cls.duration,
		classificationSummary(cls.value)) {
		tip.Classification = cls.value
		if cls.value.Confidence < stages.LowConfidenceFloor {
			lowConfidence = true
			p.appendAudit(ctx, job.TipID, models.AgentClassifier, models.AuditInfo,
				fmt.Sprintf("classification confidence %.2f is below the %.2f review floor; tip held for supervisor review",
					cls.value.Confidence, stages.LowConfidenceFloor))
		}
	}
	if p.settle(ctx, job.TipID, models.StepLinker, models.AgentLinker, link.err, link.duration,
		linkSummary(link.value)) {
		tip.Links = link.value
		if link.value.HasActiveDeconfliction() {
			p.appendAudit(ctx, job.TipID, models.AgentLinker, models.AuditInfo,
				"active investigation overlap found; priority will pause this tip for coordination")
		}
	}

	// Priority. Scoring is deterministic and cannot reject; a lost phrasing
	// oracle degrades to the engine's safe default.
	p.stageStart(ctx, job.TipID, models.StepPriority)
	pri := runStage(ctx, p.cfg.StageTimeout, func(c context.Context) (priorityResult, error) {
		assessment, degraded, err := p.stages.Priority.Run(c, tip)
		return priorityResult{assessment, degraded}, err
	})
	p.metrics.RecordStage(models.StepPriority, pri.duration, pri.err != nil || pri.value.degraded)
	if pri.err != nil {
		return p.interrupted(tip, pri.err)
	}
	if ctx.Err() != nil {
		return p.interrupted(tip, ctx.Err())
	}
	tip.Priority = pri.value.assessment.Priority
	tip.Preservation = append(tip.Preservation, pri.value.assessment.Preservation...)
	prioritySummary := fmt.Sprintf("priority assigned: tier=%s score=%d unit=%s",
		tip.Priority.Tier, tip.Priority.Score, tip.Priority.RoutingUnit)
	if pri.value.degraded {
		prioritySummary += " (safe default; scoring oracle unavailable)"
	}
	p.appendAudit(ctx, job.TipID, models.AgentPriority, models.AuditSuccess, prioritySummary)
	p.emit(job.TipID, models.StepPriority, models.EventDone, string(tip.Priority.Tier))

	// Final status. PAUSED tips and anything needing supervisor eyes stay
	// pending; everything else is triaged.
	switch {
	case tip.Priority.Tier == models.TierPaused:
		tip.Status = models.StatusPending
	case pri.value.degraded || lowConfidence:
		tip.Status = models.StatusPending
		tip.Priority.SupervisorAlert = true
	default:
		tip.Status = models.StatusTriaged
	}
	tip.UpdatedAt = time.Now().UTC()

	p.appendAudit(ctx, job.TipID, models.AgentOrch, models.AuditInfo,
		fmt.Sprintf("pipeline complete in %s: status=%s tier=%s",
			time.Since(started).Round(time.Millisecond), tip.Status, tip.Priority.Tier))
	if err := p.persist(ctx, tip); err != nil {
		return tip, err
	}
	p.metrics.RecordCompletion(string(tip.Priority.Tier))
	p.emit(job.TipID, models.StepComplete, models.EventDone, string(tip.Priority.Tier))
	p.logger.Printf("✅ %s done: status=%s tier=%s", job.TipID, tip.Status, tip.Priority.Tier)
	return tip, nil
}

type priorityResult struct {
	assessment priority.Assessment
	degraded   bool
}

// hardStop ends the run at the gate. The tip is BLOCKED, later stages never
// see it, and the stream gets a terminal blocked event. A blocked tip is a
// completed job, not a failed one.
func (p *Pipeline) hardStop(ctx context.Context, tip *models.Tip, cause error) (*models.Tip, error) {
	tip.Status = models.StatusBlocked
	tip.UpdatedAt = time.Now().UTC()
	tip.LegalStatus.LegalNote = "TRIAGE HALTED: no attached file may be viewed without legal process; human legal review required. " +
		tip.LegalStatus.LegalNote

	detail := "low legal confidence with no accessible files"
	if cause != nil {
		detail = cause.Error()
	}
	entry := audit.NewEntry(tip.TipID, models.AgentOrch, models.AuditBlocked,
		"hard stop at legal gate; tip BLOCKED pending human legal review")
	entry.ErrorDetail = detail
	p.append(ctx, entry)

	if p.metrics != nil {
		p.metrics.TipsBlocked.Inc()
	}
	if err := p.persist(ctx, tip); err != nil {
		return tip, err
	}
	p.emit(tip.TipID, models.StepWilsonGate, models.EventBlocked, detail)
	p.emit(tip.TipID, models.StepBlocked, models.EventBlocked, "tip blocked at legal gate")
	p.logger.Printf("⛔ %s blocked at legal gate: %s", tip.TipID, detail)
	return tip, nil
}

// interrupted finalizes a tip whose context died mid-run. The tip stays
// pending so a later worker can pick it up, and the audit trail records why
// this run stopped. Bookkeeping uses a detached context because the run's
// own context is already dead.
func (p *Pipeline) interrupted(tip *models.Tip, cause error) (*models.Tip, error) {
	tip.Status = models.StatusPending
	tip.UpdatedAt = time.Now().UTC()

	summary := "pipeline interrupted; tip left pending for reprocessing"
	if errors.Is(cause, context.DeadlineExceeded) {
		summary = "tip processing deadline exceeded; run stopped with tip pending"
	}
	entry := audit.NewEntry(tip.TipID, models.AgentOrch, models.AuditAgentError, summary)
	if cause != nil {
		entry.ErrorDetail = cause.Error()
	}
	bg := context.Background()
	p.append(bg, entry)
	if err := p.persist(bg, tip); err != nil {
		p.logger.Printf("❌ could not persist interrupted tip %s: %v", tip.TipID, err)
	}
	p.emit(tip.TipID, models.StepComplete, models.EventError, summary)
	p.logger.Printf("⚠️ %s interrupted: %v", tip.TipID, cause)
	return tip, cause
}

// settle records one stage's end after its parallel sibling has also
// finished: metrics, the stage-end audit entry, and the progress event.
// Returns true when the stage's output should be folded into the tip.
func (p *Pipeline) settle(ctx context.Context, tipID, step, agentName string,
	stageErr error, d time.Duration, okSummary string) bool {
	p.metrics.RecordStage(step, d, stageErr != nil)
	if stageErr != nil {
		entry := audit.NewEntry(tipID, agentName, models.AuditAgentError,
			fmt.Sprintf("%s stage rejected; enrichment left unset", step))
		entry.ErrorDetail = stageErr.Error()
		entry.DurationMs = d.Milliseconds()
		p.append(ctx, entry)
		p.emit(tipID, step, models.EventError, stageErr.Error())
		p.logger.Printf("⚠️ %s %s rejected: %v", tipID, step, stageErr)
		return false
	}
	entry := audit.NewEntry(tipID, agentName, models.AuditSuccess, okSummary)
	entry.DurationMs = d.Milliseconds()
	p.append(ctx, entry)
	p.emit(tipID, step, models.EventDone, "")
	return true
}

func (p *Pipeline) stageStart(ctx context.Context, tipID, step string) {
	p.appendAudit(ctx, tipID, models.AgentOrch, models.AuditInfo, step+" stage started")
	p.emit(tipID, step, models.EventRunning, "")
}

func (p *Pipeline) persist(ctx context.Context, tip *models.Tip) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Upsert(ctx, tip); err != nil {
		p.logger.Printf("❌ persist failed for %s: %v", tip.TipID, err)
		return fmt.Errorf("persist tip %s: %w", tip.TipID, err)
	}
	return nil
}

// append writes an audit entry best-effort. Audit faults are logged and
// never override a business result.
func (p *Pipeline) append(ctx context.Context, entry *models.AuditEntry) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Append(ctx, entry); err != nil {
		p.logger.Printf("⚠️ audit append failed for %s: %v", entry.TipID, err)
	}
}

func (p *Pipeline) appendAudit(ctx context.Context, tipID, agentName string, status models.AuditStatus, summary string) {
	p.append(ctx, audit.NewEntry(tipID, agentName, status, summary))
}

func (p *Pipeline) emit(tipID, step, status, detail string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(models.StageEvent{
		TipID:     tipID,
		Step:      step,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

func extractionSummary(e *models.ExtractedEntities) string {
	if e == nil {
		return "extraction complete"
	}
	return fmt.Sprintf("extraction complete: %d victim(s), %d subject(s), %d username(s), crisis=%t",
		len(e.Victims), len(e.Subjects), len(e.Usernames), len(e.CrisisIndicators) > 0)
}

func hashSummary(h *models.HashMatches) string {
	if h == nil {
		return "hash and OSINT complete"
	}
	matched := 0
	for _, res := range h.PerFile {
		if res.AnyMatch() {
			matched++
		}
	}
	return fmt.Sprintf("hash and OSINT complete: %d verdict(s), %d database match(es), novel=%t",
		len(h.PerFile), matched, h.AnyNovel)
}

func classificationSummary(c *models.Classification) string {
	if c == nil {
		return "classification complete"
	}
	return fmt.Sprintf("classified %s/%s at confidence %.2f", c.OffenseCategory, c.Severity, c.Confidence)
}

func linkSummary(l *models.Links) string {
	if l == nil {
		return "linking complete"
	}
	return fmt.Sprintf("linking complete: %d related tip(s), %d deconfliction hit(s), active=%t",
		len(l.RelatedTips), len(l.Deconfliction), l.HasActiveDeconfliction())
}
