package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/voicegate/internal/gate"
)

// BlogDraftTool composes a post without persisting anything.
type BlogDraftTool struct{}

var _ gate.Tool = (*BlogDraftTool)(nil)

// Name implements gate.Tool.
func (t *BlogDraftTool) Name() string { return "draft_blog_post" }

// Execute implements gate.Tool.
func (t *BlogDraftTool) Execute(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"title": args["title"].(string),
		"body":  args["body"].(string),
		"state": "draft",
	}, nil
}

// BlogPublishTool writes a post as a markdown file under the configured
// publish directory and reports its path.
type BlogPublishTool struct {
	publishDir string
}

// NewBlogPublishTool creates the publisher. An empty dir defaults to
// "./blogs".
func NewBlogPublishTool(publishDir string) *BlogPublishTool {
	if publishDir == "" {
		publishDir = "blogs"
	}
	return &BlogPublishTool{publishDir: publishDir}
}

var _ gate.Tool = (*BlogPublishTool)(nil)

// Name implements gate.Tool.
func (t *BlogPublishTool) Name() string { return "publish_blog_post" }

// Execute implements gate.Tool.
func (t *BlogPublishTool) Execute(_ context.Context, args map[string]any) (any, error) {
	title := args["title"].(string)
	body := args["body"].(string)

	if err := os.MkdirAll(t.publishDir, 0o755); err != nil {
		return nil, fmt.Errorf("tools: create publish dir: %w", err)
	}
	path := filepath.Join(t.publishDir, slugify(title)+".md")
	content := fmt.Sprintf("# %s\n\n%s\n", title, body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("tools: write post: %w", err)
	}

	return map[string]any{
		"title": title,
		"url":   path,
		"state": "published",
	}, nil
}

// slugify lowercases the title and replaces whitespace runs with dashes.
func slugify(title string) string {
	fields := strings.Fields(strings.ToLower(title))
	return strings.Join(fields, "-")
}

func blogSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"title": {Type: "string", Description: "Post title."},
			"body":  {Type: "string", Description: "Post body in markdown."},
		},
		Required: []string{"title", "body"},
	}
}
