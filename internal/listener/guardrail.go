package listener

import (
	"time"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// guardVerdict is the guardrail's decision after observing one frame.
type guardVerdict int

const (
	// guardContinue means keep capturing — neither limit reached.
	guardContinue guardVerdict = iota

	// guardReject means the silence budget was exhausted before minimum
	// speech was reached; the wake trigger was noise, discard everything.
	guardReject

	// guardComplete means the utterance ended (sustained trailing silence
	// or maximum command length); the captured segment is ready for the
	// verification stage.
	guardComplete
)

// guardrail accumulates speech and silence durations over the frames
// captured since the last wake event. Accumulation is order-sensitive:
// frames must be observed in arrival order. The zero value is not usable;
// counters are armed by reset().
//
// Owned exclusively by the listener's run goroutine — no locking.
type guardrail struct {
	// Immutable configuration.
	minSpeech       time.Duration // speech required before verification is allowed
	maxSilence      time.Duration // silence budget before minSpeech is met
	endSilence      time.Duration // trailing silence that ends the utterance
	maxCommand      time.Duration // hard cap on total captured audio
	energyThreshold float64       // frame energy below this counts as silence

	// Running counters — reset on every wake, rejection, or completion.
	speech   time.Duration // total speech captured since wake
	silence  time.Duration // total silence captured since wake
	trailing time.Duration // contiguous silence at the end of the capture
	total    time.Duration // total audio captured since wake
}

// observe accumulates one frame and returns the guardrail's verdict.
func (g *guardrail) observe(frame audio.Frame) guardVerdict {
	d := frame.Duration()
	g.total += d

	if frame.IsSilence(g.energyThreshold) {
		g.silence += d
		g.trailing += d
	} else {
		g.speech += d
		g.trailing = 0
	}

	// Noise-burst rejection: silence budget exhausted before any real
	// utterance materialised.
	if g.speech < g.minSpeech && g.silence > g.maxSilence {
		return guardReject
	}

	// Utterance end: enough speech plus sustained trailing silence, or the
	// hard length cap.
	if g.speech >= g.minSpeech && g.trailing >= g.endSilence {
		return guardComplete
	}
	if g.total >= g.maxCommand {
		return guardComplete
	}

	return guardContinue
}

// satisfied reports whether the minimum speech duration has been captured.
func (g *guardrail) satisfied() bool {
	return g.speech >= g.minSpeech
}

// reset zeroes all running counters for a fresh wake event.
func (g *guardrail) reset() {
	g.speech = 0
	g.silence = 0
	g.trailing = 0
	g.total = 0
}
