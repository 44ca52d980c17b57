// Package gate is the single enforcement point for tool execution.
//
// Tools are registered with a name, a JSON Schema for their arguments, and
// a lazy factory. The rest of the pipeline only ever sees
// [types.ToolSchemaRef] descriptions; a live tool exists only after
// [Gate.AuthorizeAndDispatch] has validated the verification token and the
// argument payload. Routing layers, LLM output, and callers cannot bypass
// this path — there is no other way to reach a tool instance.
//
// Verification tokens are single-use. A token is consumed on the first
// dispatch attempt it authorises, whether or not that attempt succeeds, so
// a captured token cannot be replayed after a failed call.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/pkg/types"
)

// Sentinel errors returned by [Gate.AuthorizeAndDispatch].
var (
	// ErrUnverified means the verification token was absent, expired,
	// issued for a different owner, or already consumed.
	ErrUnverified = errors.New("gate: owner verification required")

	// ErrInvalidArgs means the argument payload failed the tool's declared
	// schema. The tool was never instantiated.
	ErrInvalidArgs = errors.New("gate: arguments rejected by tool schema")

	// ErrUnknownTool means no tool is registered under the requested name.
	ErrUnknownTool = errors.New("gate: unknown tool")
)

// Tool is a capability executable through the gate.
type Tool interface {
	// Name returns the registry name the tool was registered under.
	Name() string

	// Execute runs the tool with schema-validated arguments.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Factory constructs a tool on first authorized use. Construction may be
// expensive (clients, connections); the gate caches the instance.
type Factory func() (Tool, error)

// Registration declares one tool to the gate.
type Registration struct {
	// Name is the unique registry name.
	Name string

	// Description is included in LLM prompts via the catalog.
	Description string

	// Schema is the JSON Schema for the tool's argument object.
	Schema *jsonschema.Schema

	// RequiresVerification marks the tool as privileged: dispatch demands
	// a valid, unused verification token. Always true for built-in tools.
	RequiresVerification bool

	// Factory lazily constructs the tool after the first authorized
	// dispatch.
	Factory Factory
}

// registration is the gate's internal record for one tool.
type registration struct {
	Registration
	resolved *jsonschema.Resolved
	params   map[string]any

	once sync.Once
	tool Tool
	err  error
}

// Gate validates tokens and argument payloads, instantiates tools lazily,
// and executes them. Safe for concurrent use.
type Gate struct {
	ownerID string
	metrics *observe.Metrics
	now     func() time.Time

	mu   sync.RWMutex
	regs map[string]*registration
	used map[uuid.UUID]time.Time // nonce -> token expiry, for pruning
}

// Option configures a Gate during construction.
type Option func(*Gate)

// WithNow injects the clock used for token expiry checks.
func WithNow(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a Gate that accepts tokens issued for ownerID. A nil metrics
// falls back to [observe.DefaultMetrics].
func New(ownerID string, metrics *observe.Metrics, opts ...Option) (*Gate, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("gate: owner ID is required")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	g := &Gate{
		ownerID: ownerID,
		metrics: metrics,
		now:     time.Now,
		regs:    make(map[string]*registration),
		used:    make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Register declares a tool. The schema is resolved once here so dispatch
// never pays resolution cost; a duplicate name or unresolvable schema is
// an error.
func (g *Gate) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("gate: tool name is required")
	}
	if reg.Factory == nil {
		return fmt.Errorf("gate: tool %q has no factory", reg.Name)
	}
	if reg.Schema == nil {
		return fmt.Errorf("gate: tool %q has no argument schema", reg.Name)
	}

	resolved, err := reg.Schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("gate: resolve schema for tool %q: %w", reg.Name, err)
	}
	params, err := schemaAsMap(reg.Schema)
	if err != nil {
		return fmt.Errorf("gate: encode schema for tool %q: %w", reg.Name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.regs[reg.Name]; exists {
		return fmt.Errorf("gate: tool %q already registered", reg.Name)
	}
	g.regs[reg.Name] = &registration{
		Registration: reg,
		resolved:     resolved,
		params:       params,
	}
	slog.Debug("tool registered", "tool", reg.Name, "privileged", reg.RequiresVerification)
	return nil
}

// Catalog returns schema references for every registered tool, sorted by
// nothing in particular. Descriptions only — no tool is instantiated.
func (g *Gate) Catalog() []types.ToolSchemaRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	refs := make([]types.ToolSchemaRef, 0, len(g.regs))
	for _, reg := range g.regs {
		refs = append(refs, types.ToolSchemaRef{
			Name:                 reg.Name,
			Description:          reg.Description,
			Parameters:           reg.params,
			RequiresVerification: reg.RequiresVerification,
		})
	}
	return refs
}

// AuthorizeAndDispatch validates the token, consumes it, validates args
// against the tool's schema, and executes the tool.
//
// The token is consumed on every dispatch attempt for a privileged tool,
// including attempts that then fail argument validation or execution.
func (g *Gate) AuthorizeAndDispatch(ctx context.Context, token types.VerificationToken, name string, args map[string]any) (any, error) {
	reg := g.lookup(name)
	if reg == nil {
		g.metrics.RecordToolDispatch(ctx, name, "unknown")
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if reg.RequiresVerification {
		if err := g.consumeToken(token); err != nil {
			g.metrics.RecordToolDispatch(ctx, name, "unauthorized")
			slog.Warn("tool dispatch refused", "tool", name, "err", err)
			return nil, err
		}
	}

	if err := reg.resolved.Validate(args); err != nil {
		g.metrics.RecordToolDispatch(ctx, name, "invalid_args")
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	tool, err := g.instantiate(reg)
	if err != nil {
		g.metrics.RecordToolDispatch(ctx, name, "init_error")
		return nil, err
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	g.metrics.ToolDispatchDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.metrics.RecordToolDispatch(ctx, name, "error")
		return nil, fmt.Errorf("gate: tool %q: %w", name, err)
	}

	g.metrics.RecordToolDispatch(ctx, name, "ok")
	slog.Info("tool dispatched", "tool", name, "owner", token.OwnerID)
	return result, nil
}

func (g *Gate) lookup(name string) *registration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.regs[name]
}

// consumeToken validates the token and marks its nonce used. The mark
// happens before any further processing, so even a failing dispatch burns
// the token.
func (g *Gate) consumeToken(token types.VerificationToken) error {
	if token.Nonce == (uuid.UUID{}) {
		return fmt.Errorf("%w: no token supplied", ErrUnverified)
	}
	if token.OwnerID != g.ownerID {
		return fmt.Errorf("%w: token issued for a different owner", ErrUnverified)
	}
	now := g.now()
	if token.Expired(now) {
		return fmt.Errorf("%w: token expired", ErrUnverified)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, seen := g.used[token.Nonce]; seen {
		return fmt.Errorf("%w: token already consumed", ErrUnverified)
	}
	g.used[token.Nonce] = token.IssuedAt.Add(token.TTL)
	g.pruneUsedLocked(now)
	return nil
}

// pruneUsedLocked drops consumed nonces whose tokens have expired anyway;
// an expired token is refused before the replay check ever runs.
func (g *Gate) pruneUsedLocked(now time.Time) {
	for nonce, expiry := range g.used {
		if now.After(expiry) {
			delete(g.used, nonce)
		}
	}
}

// instantiate runs the registration's factory exactly once and caches the
// result. Factory errors are cached too: a tool that failed to build stays
// failed instead of retrying on every dispatch.
func (g *Gate) instantiate(reg *registration) (Tool, error) {
	reg.once.Do(func() {
		reg.tool, reg.err = reg.Factory()
		if reg.err != nil {
			reg.err = fmt.Errorf("gate: instantiate tool %q: %w", reg.Name, reg.err)
		} else {
			slog.Debug("tool instantiated", "tool", reg.Name)
		}
	})
	return reg.tool, reg.err
}

// schemaAsMap converts a schema into the plain-map form embedded in LLM
// payloads.
func schemaAsMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
