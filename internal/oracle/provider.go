// Package oracle abstracts the language-model backend used by the pipeline
// agents. TOOL_MODE selects between the OpenAI-backed provider and a
// deterministic stub that needs no network.
package oracle

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    Role
	Content string
}

// ModelBand selects which configured model serves a request. Stages whose
// output carries legal or charging weight run on the high band; summarization
// and routing run fast.
type ModelBand string

const (
	BandHigh ModelBand = "high"
	BandFast ModelBand = "fast"
)

// Request is one completion call on behalf of a pipeline stage.
// MaxTokens of zero leaves the cap to the backend default.
type Request struct {
	Stage     string
	Band      ModelBand
	Messages  []Message
	MaxTokens int
}

// Response is the model output for a Request.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider is a completion backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}
