// Package mock provides a scriptable asr.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/asr"
	"github.com/MrWong99/voicegate/pkg/types"
)

// Transcriber is a test double for asr.Transcriber. Safe for concurrent use.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned from Transcribe when TranscribeFunc is nil.
	Result types.Transcript

	// Err, when non-nil, is returned instead of Result.
	Err error

	// TranscribeFunc, when non-nil, overrides Result/Err entirely.
	TranscribeFunc func(ctx context.Context, segment audio.Segment) (types.Transcript, error)

	// Calls counts Transcribe invocations.
	Calls int
}

var _ asr.Transcriber = (*Transcriber)(nil)

// Transcribe implements asr.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, segment audio.Segment) (types.Transcript, error) {
	t.mu.Lock()
	t.Calls++
	fn := t.TranscribeFunc
	res, err := t.Result, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, segment)
	}
	if err != nil {
		return types.Transcript{}, err
	}
	return res, nil
}
