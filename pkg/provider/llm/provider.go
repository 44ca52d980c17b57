// Package llm defines the Provider interface for the language-model
// backend that receives routed, verified requests.
//
// The gatekeeping core treats the model's output as opaque: it builds a
// completion request from the routing decision and the conversation
// history, and passes whatever comes back to the caller. One Provider
// instance is bound to one model; the application constructs one provider
// per model tier and the router's tier selection picks between them.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/voicegate/pkg/types"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation sent to the model.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser], or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}

// ToolCall is a tool invocation requested by the model in its response.
// The gate — never the model — decides whether the call may execute.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the requested tool's registry name.
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the backend needs for one response.
type CompletionRequest struct {
	// SystemPrompt is the assistant persona instruction, injected before
	// the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history; the last entry is the
	// owner's current utterance.
	Messages []Message

	// Tools lists the tool schemas the router attached for this intent.
	// Empty when clarification is needed.
	Tools []types.ToolSchemaRef

	// Temperature controls output randomness in [0.0, 2.0]. Zero means
	// provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// Completion is the backend's response to one request.
type Completion struct {
	// Text is the model's free-form reply. May be empty when the model
	// only requested tool calls.
	Text string

	// ToolCalls lists the tool invocations the model requested. Each must
	// still pass the gate before executing.
	ToolCalls []ToolCall

	// Usage is the token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the bound model and blocks until the full
	// response arrives or ctx is done.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// ModelID returns the bound model's identifier, for logs and metrics.
	ModelID() string
}
