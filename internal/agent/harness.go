package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/circuitbreaker"
	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
)

// ErrOracleExhausted is returned when every attempt against the oracle
// failed. Stages map it to an agent_error outcome; the Wilson gate escalates
// it to a hard stop.
var ErrOracleExhausted = errors.New("oracle unavailable after retries")

// HarnessConfig bounds the retry loop.
type HarnessConfig struct {
	MaxAttempts int           // total attempts, including the first
	RetryBase   time.Duration // first backoff; doubles per attempt
}

// DefaultHarnessConfig matches the pipeline contract: three attempts with
// exponential backoff starting at two seconds.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{MaxAttempts: 3, RetryBase: 2 * time.Second}
}

// Harness funnels every stage's oracle call through one guarded path.
type Harness struct {
	provider oracle.Provider
	breaker  *circuitbreaker.CircuitBreaker
	auditLog audit.Log
	metrics  *metrics.Metrics
	logger   *log.Logger
	cfg      HarnessConfig
}

// NewHarness wires the invocation path. breaker and m may be nil in tests.
func NewHarness(provider oracle.Provider, breaker *circuitbreaker.CircuitBreaker,
	auditLog audit.Log, m *metrics.Metrics, cfg HarnessConfig) *Harness {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	return &Harness{
		provider: provider,
		breaker:  breaker,
		auditLog: auditLog,
		metrics:  m,
		logger:   log.New(log.Writer(), "[AgentHarness] ", log.LstdFlags),
		cfg:      cfg,
	}
}

// InvokeRequest is one stage's oracle call.
type InvokeRequest struct {
	Agent     string           // audit agent name, e.g. ClassifierAgent
	Stage     string           // pipeline step name
	Band      oracle.ModelBand // fast or high
	MaxTokens int              // reply cap; zero defers to the backend
	System    string           // trusted system prompt
	Context   string           // trusted stage-assembled context
	Untrusted string           // reporter-supplied content; wrapped and escaped
}

// InvokeResult carries the model output plus invocation telemetry.
type InvokeResult struct {
	Text              string
	ModelUsed         string
	Attempts          int
	DurationMs        int64
	InjectionFindings []string
}

// Invoke runs one guarded completion with retries.
func (h *Harness) Invoke(ctx context.Context, tipID string, req InvokeRequest) (*InvokeResult, error) {
	return h.invoke(ctx, tipID, req, nil)
}

// InvokeJSON runs one guarded completion and decodes the JSON object in the
// reply into v. Replies without a usable object consume retry attempts the
// same way transport failures do.
func (h *Harness) InvokeJSON(ctx context.Context, tipID string, req InvokeRequest, v interface{}) (*InvokeResult, error) {
	return h.invoke(ctx, tipID, req, func(text string) error {
		return DecodeInto(text, v)
	})
}

func (h *Harness) invoke(ctx context.Context, tipID string, req InvokeRequest,
	validate func(string) error) (*InvokeResult, error) {

	findings := DetectInjection(req.Untrusted)
	if h.metrics != nil {
		h.metrics.InjectionFlags.Add(float64(len(findings)))
	}
	if len(findings) > 0 {
		h.logger.Printf("⚠️ injection patterns in %s content for %s: %v", req.Stage, tipID, findings)
	}

	user := req.Context
	if req.Untrusted != "" {
		if user != "" {
			user += "\n\n"
		}
		user += WrapUntrusted(req.Untrusted, findings)
	}
	oracleReq := oracle.Request{
		Stage:     req.Stage,
		Band:      req.Band,
		MaxTokens: req.MaxTokens,
		Messages: []oracle.Message{
			{Role: oracle.RoleSystem, Content: req.System},
			{Role: oracle.RoleUser, Content: user},
		},
	}

	started := time.Now()
	var lastErr error
	var resp *oracle.Response

	attempts := 0
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		resp, lastErr = h.complete(ctx, oracleReq)
		if lastErr == nil && validate != nil {
			lastErr = validate(resp.Content)
		}
		if lastErr == nil {
			break
		}

		// An open breaker will not close within a backoff window; a dead
		// context cannot recover at all. Neither is worth more attempts.
		if errors.Is(lastErr, circuitbreaker.ErrCircuitOpen) || ctx.Err() != nil {
			break
		}
		if attempt < h.cfg.MaxAttempts {
			backoff := h.cfg.RetryBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	duration := time.Since(started)
	result := &InvokeResult{
		Attempts:          attempts,
		DurationMs:        duration.Milliseconds(),
		InjectionFindings: findings,
	}

	if lastErr != nil {
		h.record(ctx, tipID, req, result, lastErr)
		if h.metrics != nil {
			h.metrics.RecordOracle(req.Stage, "error", attempts-1)
		}
		return result, fmt.Errorf("%w: %s: %v", ErrOracleExhausted, req.Stage, lastErr)
	}

	result.Text = resp.Content
	result.ModelUsed = resp.Model
	h.record(ctx, tipID, req, result, nil)
	if h.metrics != nil {
		h.metrics.RecordOracle(req.Stage, "success", attempts-1)
	}
	return result, nil
}

func (h *Harness) complete(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
	if h.breaker == nil {
		return h.provider.Complete(ctx, req)
	}
	out, err := h.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return h.provider.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*oracle.Response), nil
}

// record writes the per-invocation audit entry. Audit failures are logged,
// not returned: a completed model call is not invalidated by a logging fault.
func (h *Harness) record(ctx context.Context, tipID string, req InvokeRequest, res *InvokeResult, callErr error) {
	if h.auditLog == nil {
		return
	}
	entry := audit.NewEntry(tipID, req.Agent, models.AuditSuccess,
		fmt.Sprintf("%s oracle invocation (%d attempt(s))", req.Stage, res.Attempts))
	entry.DurationMs = res.DurationMs
	entry.ModelUsed = res.ModelUsed
	if len(res.InjectionFindings) > 0 {
		entry.Summary += fmt.Sprintf("; injection patterns flagged: %d", len(res.InjectionFindings))
	}
	if callErr != nil {
		entry.Status = models.AuditAgentError
		entry.ErrorDetail = callErr.Error()
	}
	if err := h.auditLog.Append(ctx, entry); err != nil {
		h.logger.Printf("❌ audit append failed for %s: %v", tipID, err)
	}
}
