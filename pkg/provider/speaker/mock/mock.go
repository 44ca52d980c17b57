// Package mock provides a scriptable speaker.Extractor for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/speaker"
)

// Extractor is a test double for speaker.Extractor. Safe for concurrent use.
type Extractor struct {
	mu sync.Mutex

	// Embedding is returned from Extract when ExtractFunc is nil.
	Embedding []float32

	// Err, when non-nil, is returned from Extract instead of Embedding.
	Err error

	// ExtractFunc, when non-nil, overrides Embedding/Err entirely.
	ExtractFunc func(ctx context.Context, segment audio.Segment) ([]float32, error)

	// Dims is the value returned by Dimensions. Defaults to len(Embedding).
	Dims int

	// Calls counts Extract invocations.
	Calls int
}

var _ speaker.Extractor = (*Extractor)(nil)

// Extract implements speaker.Extractor.
func (e *Extractor) Extract(ctx context.Context, segment audio.Segment) ([]float32, error) {
	e.mu.Lock()
	e.Calls++
	fn := e.ExtractFunc
	emb, err := e.Embedding, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, segment)
	}
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(emb))
	copy(out, emb)
	return out, nil
}

// Dimensions implements speaker.Extractor.
func (e *Extractor) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Dims > 0 {
		return e.Dims
	}
	return len(e.Embedding)
}
