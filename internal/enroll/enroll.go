// Package enroll turns a recorded owner audio sample into the encrypted
// voiceprint artifact the verifier loads at startup. It backs the
// -enroll CLI mode.
package enroll

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/voicegate/internal/voiceprint"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/speaker"
)

// frameSize is the number of samples per frame used when segmenting the
// enrollment recording (100ms at 16kHz).
const frameSize = 1600

// minDuration is the shortest enrollment recording accepted. Shorter
// samples produce embeddings too unstable to verify against.
const minDuration = time.Second

// ErrTooShort is returned when the enrollment recording is shorter than
// the minimum duration.
var ErrTooShort = errors.New("enroll: recording too short")

// Enroller extracts an embedding from an owner recording and seals it
// into the voiceprint store.
type Enroller struct {
	extractor  speaker.Extractor
	store      *voiceprint.Store
	sampleRate int
}

// New creates an Enroller writing to store. sampleRate is the rate of the
// raw PCM recordings passed to the Run methods; zero defaults to 16000.
func New(extractor speaker.Extractor, store *voiceprint.Store, sampleRate int) *Enroller {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Enroller{extractor: extractor, store: store, sampleRate: sampleRate}
}

// RunFile enrolls ownerID from a raw signed 16-bit little-endian mono PCM
// file at path, sealing the result under key.
func (e *Enroller) RunFile(ctx context.Context, ownerID, path string, key []byte) (*voiceprint.Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("enroll: read recording: %w", err)
	}
	samples, err := decodePCM(raw)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, ownerID, samples, key)
}

// Run enrolls ownerID from the given PCM samples, sealing the result
// under key.
func (e *Enroller) Run(ctx context.Context, ownerID string, samples []int16, key []byte) (*voiceprint.Artifact, error) {
	segment := e.segment(samples)
	if segment.Duration() < minDuration {
		return nil, fmt.Errorf("%w: got %s, need at least %s", ErrTooShort, segment.Duration(), minDuration)
	}

	embedding, err := e.extractor.Extract(ctx, segment)
	if err != nil {
		return nil, fmt.Errorf("enroll: extract embedding: %w", err)
	}

	artifact, err := e.store.Enroll(ownerID, embedding, key)
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// segment splits samples into uniform frames the extractor expects.
func (e *Enroller) segment(samples []int16) audio.Segment {
	seg := audio.Segment{SampleRate: e.sampleRate}
	for start := 0; start < len(samples); start += frameSize {
		end := min(start+frameSize, len(samples))
		seg.Frames = append(seg.Frames, audio.Frame{
			Samples:    samples[start:end],
			SampleRate: e.sampleRate,
		})
	}
	return seg
}

// decodePCM interprets raw as signed 16-bit little-endian mono PCM.
func decodePCM(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, errors.New("enroll: recording has an odd byte count, expected 16-bit PCM")
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}
