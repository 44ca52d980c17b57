package gate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/MrWong99/voicegate/internal/gate"
	"github.com/MrWong99/voicegate/pkg/types"
)

const owner = "owner-1"

// countingTool records executions and echoes its message argument.
type countingTool struct {
	mu    sync.Mutex
	calls int
}

func (t *countingTool) Name() string { return "echo" }

func (t *countingTool) Execute(_ context.Context, args map[string]any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return args["message"], nil
}

func (t *countingTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func echoSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"message": {Type: "string"},
		},
		Required: []string{"message"},
	}
}

// fixture builds a gate with one privileged echo tool and counts factory
// invocations.
func fixture(t *testing.T, opts ...gate.Option) (*gate.Gate, *countingTool, *int) {
	t.Helper()
	g, err := gate.New(owner, nil, opts...)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	tool := &countingTool{}
	factoryCalls := 0
	err = g.Register(gate.Registration{
		Name:                 "echo",
		Description:          "Echo the message back.",
		Schema:               echoSchema(),
		RequiresVerification: true,
		Factory: func() (gate.Tool, error) {
			factoryCalls++
			return tool, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return g, tool, &factoryCalls
}

func freshToken() types.VerificationToken {
	return types.VerificationToken{
		OwnerID:  owner,
		Nonce:    uuid.New(),
		IssuedAt: time.Now(),
		TTL:      time.Minute,
	}
}

func validArgs() map[string]any {
	return map[string]any{"message": "hello"}
}

// TestDispatchHappyPath verifies a valid token executes the tool and the
// tool is built lazily, exactly once.
func TestDispatchHappyPath(t *testing.T) {
	t.Parallel()
	g, tool, factoryCalls := fixture(t)

	if *factoryCalls != 0 {
		t.Fatal("factory ran before any dispatch")
	}

	got, err := g.AuthorizeAndDispatch(context.Background(), freshToken(), "echo", validArgs())
	if err != nil {
		t.Fatalf("AuthorizeAndDispatch: %v", err)
	}
	if got != "hello" {
		t.Errorf("result = %v, want %q", got, "hello")
	}
	if tool.Calls() != 1 {
		t.Errorf("tool executions = %d, want 1", tool.Calls())
	}

	// A second dispatch with a new token reuses the cached instance.
	if _, err := g.AuthorizeAndDispatch(context.Background(), freshToken(), "echo", validArgs()); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if *factoryCalls != 1 {
		t.Errorf("factory calls = %d, want 1", *factoryCalls)
	}
}

// TestTokenSingleUse verifies a token authorises exactly one dispatch.
func TestTokenSingleUse(t *testing.T) {
	t.Parallel()
	g, _, _ := fixture(t)
	token := freshToken()

	if _, err := g.AuthorizeAndDispatch(context.Background(), token, "echo", validArgs()); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	_, err := g.AuthorizeAndDispatch(context.Background(), token, "echo", validArgs())
	if !errors.Is(err, gate.ErrUnverified) {
		t.Fatalf("replayed token error = %v, want ErrUnverified", err)
	}
}

// TestTokenConsumedOnFailedDispatch verifies the token burns even when the
// dispatch then fails argument validation.
func TestTokenConsumedOnFailedDispatch(t *testing.T) {
	t.Parallel()
	g, tool, _ := fixture(t)
	token := freshToken()

	_, err := g.AuthorizeAndDispatch(context.Background(), token, "echo", map[string]any{"message": 42})
	if !errors.Is(err, gate.ErrInvalidArgs) {
		t.Fatalf("bad-args error = %v, want ErrInvalidArgs", err)
	}
	if tool.Calls() != 0 {
		t.Errorf("tool ran despite invalid args")
	}

	// The same token must not work a second time.
	_, err = g.AuthorizeAndDispatch(context.Background(), token, "echo", validArgs())
	if !errors.Is(err, gate.ErrUnverified) {
		t.Fatalf("retry after failure error = %v, want ErrUnverified", err)
	}
}

// TestTokenValidation covers absent, expired, and wrong-owner tokens.
func TestTokenValidation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	g, tool, _ := fixture(t, gate.WithNow(func() time.Time { return now }))
	ctx := context.Background()

	tests := []struct {
		name  string
		token types.VerificationToken
	}{
		{"absent", types.VerificationToken{}},
		{"expired", types.VerificationToken{
			OwnerID: owner, Nonce: uuid.New(),
			IssuedAt: now.Add(-2 * time.Minute), TTL: time.Minute,
		}},
		{"wrong owner", types.VerificationToken{
			OwnerID: "intruder", Nonce: uuid.New(),
			IssuedAt: now, TTL: time.Minute,
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.AuthorizeAndDispatch(ctx, tc.token, "echo", validArgs())
			if !errors.Is(err, gate.ErrUnverified) {
				t.Errorf("error = %v, want ErrUnverified", err)
			}
		})
	}
	if tool.Calls() != 0 {
		t.Errorf("tool executed %d times without a valid token", tool.Calls())
	}
}

// TestUnknownTool verifies dispatch of an unregistered name.
func TestUnknownTool(t *testing.T) {
	t.Parallel()
	g, _, _ := fixture(t)

	_, err := g.AuthorizeAndDispatch(context.Background(), freshToken(), "no_such_tool", validArgs())
	if !errors.Is(err, gate.ErrUnknownTool) {
		t.Fatalf("error = %v, want ErrUnknownTool", err)
	}
}

// TestCatalog verifies the catalog describes tools without building them.
func TestCatalog(t *testing.T) {
	t.Parallel()
	g, _, factoryCalls := fixture(t)

	refs := g.Catalog()
	if len(refs) != 1 {
		t.Fatalf("len(Catalog()) = %d, want 1", len(refs))
	}
	ref := refs[0]
	if ref.Name != "echo" || !ref.RequiresVerification {
		t.Errorf("ref = %+v, want privileged echo", ref)
	}
	if ref.Parameters["type"] != "object" {
		t.Errorf("Parameters[type] = %v, want object", ref.Parameters["type"])
	}
	if *factoryCalls != 0 {
		t.Error("Catalog instantiated a tool")
	}
}

// TestUnprivilegedTool verifies that a tool registered without
// RequiresVerification dispatches with no token at all.
func TestUnprivilegedTool(t *testing.T) {
	t.Parallel()
	g, err := gate.New(owner, nil)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	tool := &countingTool{}
	err = g.Register(gate.Registration{
		Name:        "echo",
		Description: "Echo without verification.",
		Schema:      echoSchema(),
		Factory:     func() (gate.Tool, error) { return tool, nil },
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := g.AuthorizeAndDispatch(context.Background(), types.VerificationToken{}, "echo", validArgs()); err != nil {
		t.Fatalf("AuthorizeAndDispatch: %v", err)
	}
	if tool.Calls() != 1 {
		t.Errorf("tool executions = %d, want 1", tool.Calls())
	}
}

// TestRegisterErrors covers duplicate and incomplete registrations.
func TestRegisterErrors(t *testing.T) {
	t.Parallel()
	g, _, _ := fixture(t)

	dup := gate.Registration{
		Name:    "echo",
		Schema:  echoSchema(),
		Factory: func() (gate.Tool, error) { return &countingTool{}, nil },
	}
	if err := g.Register(dup); err == nil {
		t.Error("Register accepted a duplicate name")
	}

	if err := g.Register(gate.Registration{Name: "x", Schema: echoSchema()}); err == nil {
		t.Error("Register accepted a registration without a factory")
	}
	if err := g.Register(gate.Registration{Name: "y", Factory: dup.Factory}); err == nil {
		t.Error("Register accepted a registration without a schema")
	}
}
