package tools_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicegate/internal/gate"
	"github.com/MrWong99/voicegate/internal/tools"
	"github.com/MrWong99/voicegate/pkg/types"
)

const owner = "owner-1"

func newGate(t *testing.T, cfg tools.Config) *gate.Gate {
	t.Helper()
	g, err := gate.New(owner, nil)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	if err := tools.RegisterBuiltins(g, cfg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return g
}

func token() types.VerificationToken {
	return types.VerificationToken{
		OwnerID:  owner,
		Nonce:    uuid.New(),
		IssuedAt: time.Now(),
		TTL:      time.Minute,
	}
}

// TestBuiltinCatalog verifies every built-in tool is registered and
// privileged.
func TestBuiltinCatalog(t *testing.T) {
	t.Parallel()
	g := newGate(t, tools.Config{})

	refs := g.Catalog()
	want := map[string]bool{
		"send_email":        false,
		"place_call":        false,
		"draft_blog_post":   false,
		"publish_blog_post": false,
		"discover_tools":    false,
	}
	for _, ref := range refs {
		if _, known := want[ref.Name]; !known {
			t.Errorf("unexpected tool %q in catalog", ref.Name)
			continue
		}
		want[ref.Name] = true
		if !ref.RequiresVerification {
			t.Errorf("tool %q is not privileged", ref.Name)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q missing from catalog", name)
		}
	}
}

// TestSendEmailDryRun verifies the default email tool echoes the message
// in dry-run mode.
func TestSendEmailDryRun(t *testing.T) {
	t.Parallel()
	g := newGate(t, tools.Config{})

	got, err := g.AuthorizeAndDispatch(context.Background(), token(), "send_email", map[string]any{
		"to":      "ops@example.com",
		"subject": "weekly report",
		"body":    "numbers attached",
	})
	if err != nil {
		t.Fatalf("AuthorizeAndDispatch: %v", err)
	}

	result := got.(map[string]any)
	if result["mode"] != "dry-run" {
		t.Errorf("mode = %v, want dry-run", result["mode"])
	}
	if result["to"] != "ops@example.com" {
		t.Errorf("to = %v, want ops@example.com", result["to"])
	}
}

// TestPlaceCall verifies the call stub queues without side effects.
func TestPlaceCall(t *testing.T) {
	t.Parallel()
	g := newGate(t, tools.Config{})

	got, err := g.AuthorizeAndDispatch(context.Background(), token(), "place_call", map[string]any{
		"to":      "+49123456789",
		"message": "running ten minutes late",
	})
	if err != nil {
		t.Fatalf("AuthorizeAndDispatch: %v", err)
	}
	if got.(map[string]any)["status"] != "queued" {
		t.Errorf("status = %v, want queued", got.(map[string]any)["status"])
	}
}

// TestPublishBlogPost verifies publishing writes a slugged markdown file.
func TestPublishBlogPost(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	g := newGate(t, tools.Config{BlogPublishDir: dir})

	got, err := g.AuthorizeAndDispatch(context.Background(), token(), "publish_blog_post", map[string]any{
		"title": "Voice Pipelines In Production",
		"body":  "Notes from the field.",
	})
	if err != nil {
		t.Fatalf("AuthorizeAndDispatch: %v", err)
	}

	wantPath := filepath.Join(dir, "voice-pipelines-in-production.md")
	if got.(map[string]any)["url"] != wantPath {
		t.Errorf("url = %v, want %v", got.(map[string]any)["url"], wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("published file missing: %v", err)
	}
	if string(data) != "# Voice Pipelines In Production\n\nNotes from the field.\n" {
		t.Errorf("published content = %q", data)
	}
}

// TestDiscoverTools verifies catalog discovery from an explicit file path.
func TestDiscoverTools(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.json")
	catalog := `[{"name": "backup", "description": "Run the nightly backup."}]`
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	g := newGate(t, tools.Config{})
	got, err := g.AuthorizeAndDispatch(context.Background(), token(), "discover_tools", map[string]any{
		"path": path,
	})
	if err != nil {
		t.Fatalf("AuthorizeAndDispatch: %v", err)
	}

	defs := got.([]map[string]any)
	if len(defs) != 1 || defs[0]["name"] != "backup" {
		t.Errorf("discovered = %+v, want one backup entry", defs)
	}
}

// TestDiscoverToolsEmpty verifies discovery returns an empty list when
// nothing is configured.
func TestDiscoverToolsEmpty(t *testing.T) {
	g := newGate(t, tools.Config{})
	t.Setenv(tools.DiscoveryEnvVar, "")
	t.Setenv(tools.DiscoveryPathVar, "")

	got, err := g.AuthorizeAndDispatch(context.Background(), token(), "discover_tools", map[string]any{})
	if err != nil {
		t.Fatalf("AuthorizeAndDispatch: %v", err)
	}
	if defs := got.([]map[string]any); len(defs) != 0 {
		t.Errorf("discovered = %+v, want empty", defs)
	}
}
