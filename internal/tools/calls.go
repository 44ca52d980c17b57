package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/voicegate/internal/gate"
)

// CallTool places outbound calls through the configured telephony
// provider. The stub queues the call and reports its status without any
// network traffic.
type CallTool struct {
	provider string
}

// NewCallTool creates the call placer. An empty provider selects dry-run.
func NewCallTool(provider string) *CallTool {
	if provider == "" {
		provider = "dry-run"
	}
	return &CallTool{provider: provider}
}

var _ gate.Tool = (*CallTool)(nil)

// Name implements gate.Tool.
func (t *CallTool) Name() string { return "place_call" }

// Execute implements gate.Tool.
func (t *CallTool) Execute(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"provider": t.provider,
		"to":       args["to"].(string),
		"message":  args["message"].(string),
		"status":   "queued",
	}, nil
}

func callSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"to":      {Type: "string", Description: "Number or contact to call."},
			"message": {Type: "string", Description: "What to say when the call connects."},
		},
		Required: []string{"to", "message"},
	}
}
