package tools

import (
	"fmt"

	"github.com/MrWong99/voicegate/internal/gate"
)

// Config selects providers and output locations for the built-in tools.
// Zero values mean dry-run everywhere.
type Config struct {
	// EmailProvider names the outbound email backend. Empty means dry-run.
	EmailProvider string

	// EmailDryRun forces dry-run even with a real provider configured.
	EmailDryRun bool

	// CallProvider names the telephony backend. Empty means dry-run.
	CallProvider string

	// BlogPublishDir is where published posts are written. Default "blogs".
	BlogPublishDir string
}

// RegisterBuiltins declares every built-in tool to the gate. All of them
// are privileged: dispatch requires a valid verification token.
func RegisterBuiltins(g *gate.Gate, cfg Config) error {
	regs := []gate.Registration{
		{
			Name:                 "send_email",
			Description:          "Send an email on the owner's behalf.",
			Schema:               emailSchema(),
			RequiresVerification: true,
			Factory: func() (gate.Tool, error) {
				return NewEmailTool(cfg.EmailProvider, cfg.EmailDryRun), nil
			},
		},
		{
			Name:                 "place_call",
			Description:          "Place an outbound phone call and speak a message.",
			Schema:               callSchema(),
			RequiresVerification: true,
			Factory: func() (gate.Tool, error) {
				return NewCallTool(cfg.CallProvider), nil
			},
		},
		{
			Name:                 "draft_blog_post",
			Description:          "Compose a blog post draft without publishing it.",
			Schema:               blogSchema(),
			RequiresVerification: true,
			Factory: func() (gate.Tool, error) {
				return &BlogDraftTool{}, nil
			},
		},
		{
			Name:                 "publish_blog_post",
			Description:          "Publish a blog post to the configured output directory.",
			Schema:               blogSchema(),
			RequiresVerification: true,
			Factory: func() (gate.Tool, error) {
				return NewBlogPublishTool(cfg.BlogPublishDir), nil
			},
		},
		{
			Name:                 "discover_tools",
			Description:          "List tool definitions exposed by the environment or a mounted catalog file.",
			Schema:               discoverySchema(),
			RequiresVerification: true,
			Factory: func() (gate.Tool, error) {
				return &DiscoveryTool{}, nil
			},
		},
	}

	for _, reg := range regs {
		if err := g.Register(reg); err != nil {
			return fmt.Errorf("tools: register builtins: %w", err)
		}
	}
	return nil
}
