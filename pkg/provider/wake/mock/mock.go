// Package mock provides a scriptable wake.Detector for tests.
package mock

import (
	"sync"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/wake"
)

// Detector is a test double for wake.Detector. Configure either a fixed
// script of events (returned in order, nil entries meaning "no wake") or a
// ProcessFunc for full control. Safe for concurrent use.
type Detector struct {
	mu sync.Mutex

	// Script is consumed one entry per ProcessFrame call. When exhausted,
	// ProcessFrame returns (nil, nil).
	Script []*wake.Event

	// ProcessFunc, when non-nil, overrides Script entirely.
	ProcessFunc func(frame audio.Frame) (*wake.Event, error)

	// Calls counts ProcessFrame invocations.
	Calls int
}

var _ wake.Detector = (*Detector)(nil)

// ProcessFrame implements wake.Detector.
func (d *Detector) ProcessFrame(frame audio.Frame) (*wake.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++

	if d.ProcessFunc != nil {
		return d.ProcessFunc(frame)
	}
	if len(d.Script) == 0 {
		return nil, nil
	}
	ev := d.Script[0]
	d.Script = d.Script[1:]
	return ev, nil
}
