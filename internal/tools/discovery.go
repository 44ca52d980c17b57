package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/voicegate/internal/gate"
)

// Environment hooks for externally mounted tool catalogs: a container can
// inject definitions directly through VOICEGATE_TOOLS (a JSON array) or
// mount a file and point VOICEGATE_TOOLS_PATH at it.
const (
	DiscoveryEnvVar  = "VOICEGATE_TOOLS"
	DiscoveryPathVar = "VOICEGATE_TOOLS_PATH"
)

// DiscoveryTool lists externally provided tool definitions. It never
// registers or executes anything it finds; the result is descriptive only.
type DiscoveryTool struct{}

var _ gate.Tool = (*DiscoveryTool)(nil)

// Name implements gate.Tool.
func (t *DiscoveryTool) Name() string { return "discover_tools" }

// Execute implements gate.Tool. The env var takes priority over the file;
// an explicit "path" argument overrides both.
func (t *DiscoveryTool) Execute(_ context.Context, args map[string]any) (any, error) {
	if p, ok := args["path"].(string); ok && p != "" {
		return loadCatalogFile(p)
	}
	if raw := os.Getenv(DiscoveryEnvVar); raw != "" {
		return decodeCatalog([]byte(raw))
	}
	if p := os.Getenv(DiscoveryPathVar); p != "" {
		return loadCatalogFile(p)
	}
	return []map[string]any{}, nil
}

func loadCatalogFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tools: read catalog file: %w", err)
	}
	return decodeCatalog(data)
}

func decodeCatalog(data []byte) ([]map[string]any, error) {
	var defs []map[string]any
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("tools: decode catalog: %w", err)
	}
	return defs, nil
}

func discoverySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"path": {Type: "string", Description: "Optional catalog file to read instead of the environment."},
		},
	}
}
