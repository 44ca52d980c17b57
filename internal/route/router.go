// Package route turns an intent classification into a routing decision:
// which model tier answers, which tool schemas are offered, and whether a
// clarifying question must come first.
//
// The router never talks to an LLM and never instantiates tools. It deals
// exclusively in [types.ToolSchemaRef] descriptions; turning a reference
// into a live tool is the gate's job, after token validation.
package route

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voicegate/internal/intent"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/pkg/provider/llm"
	"github.com/MrWong99/voicegate/pkg/types"
)

// DefaultSystemPrompt is used when Config.SystemPrompt is empty.
const DefaultSystemPrompt = "You are a concise voice assistant. Answer briefly; use tools only when asked."

// Config holds router parameters.
type Config struct {
	// ComplexityCutoff splits the tiers: scores at or above it go to the
	// high-capability tier. Must be in (0, 1). Default: 0.5.
	ComplexityCutoff float64

	// ConfidenceThreshold is the minimum classifier confidence required to
	// act. Below it the decision asks for clarification and offers no
	// tools. Must be in (0, 1). Default: 0.5.
	ConfidenceThreshold float64

	// SystemPrompt heads every LLM payload. Default: [DefaultSystemPrompt].
	SystemPrompt string

	// IntentTools maps an intent label to the registry names of the tools
	// relevant to it. A nil value for a present key means "all tools".
	// Labels absent from the map get no tools. Default: [DefaultIntentTools].
	IntentTools map[intent.Label][]string
}

// DefaultIntentTools is the built-in relevance map, matching the built-in
// tool set. The tool-needed label offers the full catalog because the
// request named no specific capability.
var DefaultIntentTools = map[intent.Label][]string{
	intent.LabelEmail:      {"send_email"},
	intent.LabelCall:       {"place_call"},
	intent.LabelBlog:       {"draft_blog_post", "publish_blog_post"},
	intent.LabelToolNeeded: nil,
}

func (c *Config) validate() error {
	if c.ComplexityCutoff == 0 {
		c.ComplexityCutoff = 0.5
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.ComplexityCutoff <= 0 || c.ComplexityCutoff >= 1 {
		return fmt.Errorf("route: complexity cutoff %.3f out of range (0, 1)", c.ComplexityCutoff)
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		return fmt.Errorf("route: confidence threshold %.3f out of range (0, 1)", c.ConfidenceThreshold)
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.IntentTools == nil {
		c.IntentTools = DefaultIntentTools
	}
	return nil
}

// Router maps classifications to routing decisions. Immutable after
// construction and safe for concurrent use.
type Router struct {
	cfg     Config
	metrics *observe.Metrics
}

// New creates a Router. A nil metrics falls back to
// [observe.DefaultMetrics].
func New(cfg Config, metrics *observe.Metrics) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Router{cfg: cfg, metrics: metrics}, nil
}

// Route produces the routing decision for one classified transcript.
// catalog is the full set of registered tool schemas; only the ones
// relevant to the intent label are attached, and none at all when the
// classification is too uncertain to act on.
func (r *Router) Route(ctx context.Context, c intent.Classification, catalog []types.ToolSchemaRef) types.RoutingDecision {
	tier := types.TierLight
	if c.ComplexityScore >= r.cfg.ComplexityCutoff {
		tier = types.TierHeavy
	}

	decision := types.RoutingDecision{
		Intent:          string(c.Label),
		ComplexityScore: c.ComplexityScore,
		ModelTier:       tier,
	}

	if c.Confidence < r.cfg.ConfidenceThreshold {
		decision.ClarificationNeeded = true
	} else {
		decision.ToolSchemas = r.relevantTools(c.Label, catalog)
	}

	r.metrics.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", decision.Intent),
		attribute.String("tier", string(decision.ModelTier)),
		attribute.Bool("clarification", decision.ClarificationNeeded),
	))
	return decision
}

// relevantTools filters the catalog down to the schemas relevant to the
// label. A label mapped to nil receives the whole catalog.
func (r *Router) relevantTools(label intent.Label, catalog []types.ToolSchemaRef) []types.ToolSchemaRef {
	names, ok := r.cfg.IntentTools[label]
	if !ok {
		return nil
	}
	if names == nil {
		out := make([]types.ToolSchemaRef, len(catalog))
		copy(out, catalog)
		return out
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []types.ToolSchemaRef
	for _, ref := range catalog {
		if wanted[ref.Name] {
			out = append(out, ref)
		}
	}
	return out
}

// BuildRequest assembles the LLM payload for a decision: system prompt,
// rolling conversation history, then the user's transcript, with the
// decision's tool schemas attached.
func (r *Router) BuildRequest(decision types.RoutingDecision, history []llm.Message, userText string) llm.CompletionRequest {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})

	return llm.CompletionRequest{
		SystemPrompt: r.cfg.SystemPrompt,
		Messages:     messages,
		Tools:        decision.ToolSchemas,
	}
}
