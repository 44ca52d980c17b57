package listener

// State is the continuous listener's position in the gatekeeping state
// machine. Transitions happen only on the single Run goroutine; readers
// use [Listener.State] for a synchronized snapshot.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota

	// StateListeningForWake feeds every incoming frame to the wake detector.
	StateListeningForWake

	// StateWakeDetected is the instant a wake event met the threshold;
	// the listener moves straight on to guardrail accumulation.
	StateWakeDetected

	// StateGuardrailCheck accumulates speech/silence counters over the
	// captured command frames.
	StateGuardrailCheck

	// StateVerifying runs the challenge pre-check, embedding extraction,
	// and speaker verification for the captured segment.
	StateVerifying

	// StateVerifiedActive is entered on successful verification, when the
	// verified utterance is emitted downstream.
	StateVerifiedActive

	// StateCooldown rejects all input until the cooldown deadline passes.
	StateCooldown
)

// String returns the canonical name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListeningForWake:
		return "LISTENING_FOR_WAKE"
	case StateWakeDetected:
		return "WAKE_DETECTED"
	case StateGuardrailCheck:
		return "GUARDRAIL_CHECK"
	case StateVerifying:
		return "VERIFYING"
	case StateVerifiedActive:
		return "VERIFIED_ACTIVE"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return "UNKNOWN"
	}
}
