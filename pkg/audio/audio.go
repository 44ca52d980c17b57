// Package audio defines the PCM frame and segment types that travel through
// the voicegate capture pipeline, plus the energy-based speech/silence
// classification the guardrails depend on.
package audio

import "time"

// Frame is one ordered chunk of mono PCM samples from the capture source.
// A Frame is immutable once produced; the listener owns it transiently
// while it is in flight and must not retain or mutate the sample slice.
type Frame struct {
	// Samples are signed 16-bit little-endian PCM samples.
	Samples []int16

	// SampleRate is the capture rate in Hz (e.g. 16000).
	SampleRate int

	// Timestamp is when the first sample of the frame was captured.
	Timestamp time.Time
}

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Energy returns the mean absolute amplitude of the frame, normalised to
// [0, 1]. An all-zero frame has energy 0; a full-scale square wave has
// energy 1.
func (f Frame) Energy() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.Samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(f.Samples)) / 32768.0
}

// IsSilence reports whether the frame's energy is below threshold.
// The threshold is in the same normalised [0, 1] scale as [Frame.Energy].
func (f Frame) IsSilence(threshold float64) bool {
	return f.Energy() < threshold
}

// Segment is a contiguous run of frames captured after a wake event.
// It is handed to the embedding extractor and the ASR as one unit.
type Segment struct {
	// Frames are the captured frames in arrival order.
	Frames []Frame

	// SampleRate is the shared sample rate of all frames in the segment.
	SampleRate int
}

// Duration returns the total wall-clock length of the segment.
func (s Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// Samples returns the segment's PCM data flattened into a single slice.
// The result is a fresh copy; mutating it does not affect the frames.
func (s Segment) Samples() []int16 {
	n := 0
	for _, f := range s.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range s.Frames {
		out = append(out, f.Samples...)
	}
	return out
}
