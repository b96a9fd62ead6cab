package stages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/oracle"
)

// newTestHarness builds a harness over the deterministic stub with
// millisecond backoff so retry paths run fast.
func newTestHarness(stub *oracle.StubProvider) (*agent.Harness, *audit.MemoryLog) {
	logStore := audit.NewMemoryLog()
	h := agent.NewHarness(stub, nil, logStore, nil,
		agent.HarnessConfig{MaxAttempts: 3, RetryBase: time.Millisecond})
	return h, logStore
}

func TestInlineFlattens(t *testing.T) {
	assert.Equal(t, "a b c", inline("a\nb\r\nc", 64))
	assert.Equal(t, "x script y", inline("x <script> y", 64))
	assert.Equal(t, "abc", inline("abcdef", 3))
	assert.Equal(t, "10-12", inline("  10-12  ", 24))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-3))
	assert.Equal(t, 1.0, clamp01(1.7))
	assert.Equal(t, 0.42, clamp01(0.42))
}
