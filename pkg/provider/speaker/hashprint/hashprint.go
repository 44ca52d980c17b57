// Package hashprint provides a dependency-free speaker.Extractor that
// derives an embedding by hashing frame contents.
//
// Each frame's PCM bytes are digested with SHA-256 and the leading digest
// bytes are averaged across frames. The result is deterministic for
// identical audio, which is exactly what the verification round-trip
// property requires, but it carries no real biometric signal — use a
// model-backed extractor in production.
package hashprint

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/speaker"
)

// DefaultDimensions is the embedding length used by [New].
const DefaultDimensions = 32

// Extractor hashes each frame and averages digest bytes into a fixed-length
// vector. Stateless and safe for concurrent use.
type Extractor struct {
	dims int
}

var _ speaker.Extractor = (*Extractor)(nil)

// New creates an Extractor with [DefaultDimensions] output length.
func New() *Extractor {
	return &Extractor{dims: DefaultDimensions}
}

// Extract implements speaker.Extractor. Returns an error wrapping
// [speaker.ErrExtraction] when the segment contains no frames.
func (e *Extractor) Extract(ctx context.Context, segment audio.Segment) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("hashprint: %w", err)
	}
	if len(segment.Frames) == 0 {
		return nil, fmt.Errorf("hashprint: empty segment: %w", speaker.ErrExtraction)
	}

	accum := make([]float64, e.dims)
	for _, frame := range segment.Frames {
		digest := sha256.Sum256(frameBytes(frame))
		for i := 0; i < e.dims; i++ {
			accum[i] += float64(digest[i])
		}
	}

	out := make([]float32, e.dims)
	total := float64(len(segment.Frames))
	for i, v := range accum {
		out[i] = float32(v / total)
	}
	return out, nil
}

// Dimensions implements speaker.Extractor.
func (e *Extractor) Dimensions() int { return e.dims }

// frameBytes serialises a frame's samples as little-endian PCM bytes.
func frameBytes(frame audio.Frame) []byte {
	buf := make([]byte, 2*len(frame.Samples))
	for i, s := range frame.Samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}
