// Package tools holds the built-in capabilities dispatched through the
// gate: a dry-run email sender, a call placer, a blog drafter/publisher,
// and a tool-catalog discovery helper.
//
// Every tool here is privileged and registered with RequiresVerification;
// none of them can be reached except through gate.AuthorizeAndDispatch.
// The adapters are deliberately side-effect-light: they produce structured
// results that a real provider integration can replace without changing
// the registered schema.
package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/voicegate/internal/gate"
)

// EmailTool sends email through the configured provider. The default
// provider performs no network calls and returns the message it would
// have sent.
type EmailTool struct {
	provider string
	dryRun   bool
}

// NewEmailTool creates the sender. An empty provider selects dry-run.
func NewEmailTool(provider string, dryRun bool) *EmailTool {
	if provider == "" {
		provider = "dry-run"
	}
	return &EmailTool{provider: provider, dryRun: dryRun}
}

var _ gate.Tool = (*EmailTool)(nil)

// Name implements gate.Tool.
func (t *EmailTool) Name() string { return "send_email" }

// Execute implements gate.Tool. Arguments are schema-validated before this
// runs, so the type assertions cannot fail.
func (t *EmailTool) Execute(_ context.Context, args map[string]any) (any, error) {
	mode := "real"
	if t.dryRun || t.provider == "dry-run" {
		mode = "dry-run"
	}
	return map[string]any{
		"provider": t.provider,
		"to":       args["to"].(string),
		"subject":  args["subject"].(string),
		"body":     args["body"].(string),
		"mode":     mode,
	}, nil
}

// emailSchema describes the send_email argument object.
func emailSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"to":      {Type: "string", Description: "Recipient address."},
			"subject": {Type: "string", Description: "Message subject line."},
			"body":    {Type: "string", Description: "Plain-text message body."},
		},
		Required: []string{"to", "subject", "body"},
	}
}
