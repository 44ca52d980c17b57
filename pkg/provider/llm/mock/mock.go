// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicegate/pkg/provider/llm"
)

// Provider is a test double for llm.Provider. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Response is returned from Complete when CompleteFunc is nil.
	Response llm.Completion

	// Err, when non-nil, is returned instead of Response.
	Err error

	// CompleteFunc, when non-nil, overrides Response/Err entirely.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error)

	// Model is returned from ModelID. Defaults to "mock".
	Model string

	// Requests records every request passed to Complete, in order.
	Requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	fn := p.CompleteFunc
	resp, err := p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	out := resp
	return &out, nil
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Model != "" {
		return p.Model
	}
	return "mock"
}
