// Package speaker defines the Extractor interface for speaker-embedding
// backends.
//
// An extractor maps a captured audio segment to a fixed-length embedding
// vector describing the speaker's voice characteristics (e.g. a ResNet34
// or ECAPA-TDNN speaker encoder served over ONNX). The verifier compares
// live embeddings against the enrolled voiceprint; the extractor itself
// knows nothing about enrollment or thresholds.
//
// Implementations must be safe for concurrent use.
package speaker

import (
	"context"
	"errors"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// ErrExtraction is returned (possibly wrapped) when the audio segment is
// malformed or too short for the model to produce an embedding. It is a
// transient condition: callers may retry once with a fresh capture.
var ErrExtraction = errors.New("speaker: embedding extraction failed")

// Extractor is the abstraction over any speaker-embedding backend.
//
// All vectors returned by one Extractor instance share the same length
// (Dimensions). Vectors from different extractors must never be compared.
type Extractor interface {
	// Extract computes the embedding for segment. Blocks until the model
	// responds or ctx is done; implementations must honour cancellation.
	// Returns an error wrapping [ErrExtraction] when the segment cannot
	// be embedded.
	Extract(ctx context.Context, segment audio.Segment) ([]float32, error)

	// Dimensions returns the fixed length of every embedding produced by
	// this extractor.
	Dimensions() int
}
