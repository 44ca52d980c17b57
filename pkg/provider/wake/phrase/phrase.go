// Package phrase provides a dependency-free fallback wake detector that
// matches the wake phrase against frame bytes decoded as text.
//
// It exists so that the full pipeline can run without a vendor keyword
// spotter: development harnesses and tests synthesise frames whose sample
// bytes spell out utterance text. It is not a substitute for a real DSP
// detector in production.
package phrase

import (
	"fmt"
	"strings"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/wake"
)

// Detector matches a fixed wake phrase as a case-insensitive substring of
// the frame's samples decoded as ASCII bytes. Safe for concurrent use —
// the phrase is immutable after construction.
type Detector struct {
	phrase string
}

var _ wake.Detector = (*Detector)(nil)

// New creates a phrase detector for the given wake phrase.
// Returns an error if the phrase is empty.
func New(wakePhrase string) (*Detector, error) {
	if strings.TrimSpace(wakePhrase) == "" {
		return nil, fmt.Errorf("phrase: wake phrase must not be empty")
	}
	return &Detector{phrase: strings.ToLower(wakePhrase)}, nil
}

// ProcessFrame implements wake.Detector. A frame whose decoded text
// contains the wake phrase yields an Event with confidence 1.0.
func (d *Detector) ProcessFrame(frame audio.Frame) (*wake.Event, error) {
	if strings.Contains(strings.ToLower(decode(frame)), d.phrase) {
		return &wake.Event{Confidence: 1.0, Timestamp: frame.Timestamp}, nil
	}
	return nil, nil
}

// decode interprets the low byte of each sample as an ASCII character,
// skipping non-printable bytes. This is the inverse of the encoding used
// by test harnesses to synthesise "spoken" frames.
func decode(frame audio.Frame) string {
	var sb strings.Builder
	for _, s := range frame.Samples {
		b := byte(s & 0xff)
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}
