// Package asr defines the Transcriber interface for speech-to-text
// backends used by the voicegate pipeline.
//
// Unlike a streaming STT session, the gatekeeping core only needs one-shot
// segment transcription: the challenge-phrase pre-check and the
// post-verification command transcript. Both calls are bounded by an
// explicit timeout supplied by the caller — a transcriber must never block
// the listener indefinitely.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"
	"errors"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/types"
)

// ErrTimeout is returned (possibly wrapped) when the backend did not
// produce a transcript within the caller's deadline. Transient: the
// orchestration layer may retry once.
var ErrTimeout = errors.New("asr: transcription timed out")

// ErrLowConfidence is returned when the backend produced a transcript but
// its own confidence is below the implementation's usable floor. Callers
// treat the utterance as unintelligible rather than acting on garbage.
var ErrLowConfidence = errors.New("asr: transcript confidence too low")

// Transcriber is the abstraction over any one-shot speech-to-text backend.
type Transcriber interface {
	// Transcribe converts segment to text. The ctx deadline bounds the
	// call; implementations must return an error wrapping [ErrTimeout]
	// when it elapses and an error wrapping [ErrLowConfidence] when the
	// result is unusable.
	Transcribe(ctx context.Context, segment audio.Segment) (types.Transcript, error)
}
