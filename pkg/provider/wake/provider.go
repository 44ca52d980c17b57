// Package wake defines the Detector interface for wake-word detection
// backends.
//
// A wake detector wraps a frame-level keyword spotter (e.g. Porcupine,
// openWakeWord, or a custom model) behind a single synchronous method so
// the listener loop can gate every incoming frame without caring which
// engine is installed. Detection is synchronous by design: ProcessFrame
// must return immediately, making it suitable to run inline in the audio
// ingestion loop.
//
// Implementations must be safe for concurrent use across different
// listener sessions; per-session state (smoothing windows, ring buffers)
// belongs inside the implementation.
package wake

import (
	"time"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// Event is a wake-word detection emitted by a Detector. It is consumed
// exactly once by the listener that received it.
type Event struct {
	// Confidence is the detector's confidence that the frame contained
	// the wake word, in [0, 1]. The listener compares it against the
	// configured wake threshold; the detector itself does not gate.
	Confidence float64

	// Timestamp is when the triggering frame was captured.
	Timestamp time.Time
}

// Detector is the abstraction over any wake-word detection backend.
type Detector interface {
	// ProcessFrame analyses a single audio frame and returns a non-nil
	// Event when the frame may contain the wake word. A nil Event with a
	// nil error means "nothing heard" and is the common case.
	//
	// ProcessFrame is called for every frame in arrival order and must
	// not block.
	ProcessFrame(frame audio.Frame) (*Event, error)
}
