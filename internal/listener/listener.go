// Package listener implements the continuous gatekeeping loop: frame
// ingestion, wake-word gating, speech guardrails, speaker verification,
// and the cooldown that throttles repeated rejections.
//
// One Listener is one session. Frames enter through [Listener.Feed] into a
// small bounded buffer; a single [Listener.Run] goroutine consumes them in
// arrival order, which makes guardrail accounting deterministic and
// guarantees that at most one verification attempt is in flight at a time.
// When the buffer is full, Feed drops the frame and records a metric
// instead of applying backpressure to the capture source.
//
// No utterance crosses the trust boundary without a recorded wake-to-verify
// latency — the measurement is taken on the verified path and on every
// rejection path alike.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/internal/verify"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/asr"
	"github.com/MrWong99/voicegate/pkg/provider/speaker"
	"github.com/MrWong99/voicegate/pkg/provider/wake"
	"github.com/MrWong99/voicegate/pkg/types"
)

// ErrGuardrailRejected marks rejections where the captured audio never
// qualified for verification (too little speech, too much silence).
var ErrGuardrailRejected = errors.New("listener: guardrail rejected utterance")

// ErrVerificationRejected marks rejections where the speaker did not match
// the enrolled owner.
var ErrVerificationRejected = errors.New("listener: speaker verification rejected")

// RejectReason classifies why an utterance attempt was discarded.
type RejectReason string

const (
	// ReasonSilence: the silence budget ran out before minimum speech.
	ReasonSilence RejectReason = "silence"

	// ReasonShortSpeech: the capture ended below the minimum speech duration.
	ReasonShortSpeech RejectReason = "short_speech"

	// ReasonChallengeMismatch: the configured challenge phrase was not heard.
	ReasonChallengeMismatch RejectReason = "challenge_mismatch"

	// ReasonVerificationRejected: similarity score below the threshold.
	ReasonVerificationRejected RejectReason = "verification_rejected"

	// ReasonTimeout: an external collaborator call exceeded its deadline.
	ReasonTimeout RejectReason = "timeout"

	// ReasonExtraction: the embedding extractor could not process the segment.
	ReasonExtraction RejectReason = "extraction_error"

	// ReasonASRFailure: the challenge pre-check transcription failed.
	ReasonASRFailure RejectReason = "asr_error"
)

// Rejection describes one discarded utterance attempt.
type Rejection struct {
	// Reason classifies the rejection.
	Reason RejectReason

	// WakeToRejectLatency is the time from wake detection to the rejection.
	WakeToRejectLatency time.Duration

	// Err is the sentinel ([ErrGuardrailRejected] or
	// [ErrVerificationRejected]) or the wrapped collaborator error.
	Err error
}

// Config holds the listener session parameters. WakeThreshold, MinSpeech,
// MaxSilence, and TokenTTL are required; everything else has a default.
type Config struct {
	// WakeThreshold is the minimum wake-event confidence, in (0, 1].
	WakeThreshold float64

	// MinSpeech is the speech duration required before verification.
	MinSpeech time.Duration

	// MaxSilence is the silence budget before MinSpeech is met; exceeding
	// it discards the capture as a noise burst.
	MaxSilence time.Duration

	// EndSilence is the sustained trailing silence that ends a capture.
	// Default: MaxSilence.
	EndSilence time.Duration

	// MaxCommand caps the total captured audio length. Default: 15s.
	MaxCommand time.Duration

	// EnergyThreshold classifies a frame as silence when its normalised
	// energy is below this value. Default: 0.01.
	EnergyThreshold float64

	// ChallengePhrase, when non-empty, must appear in a lightweight
	// pre-check transcript of the capture before verification is even
	// attempted. Resists replay of a captured wake-word-only clip.
	ChallengePhrase string

	// VerifyTimeout bounds each external collaborator call during
	// verification. Default: 5s.
	VerifyTimeout time.Duration

	// TokenTTL is the validity window of minted verification tokens.
	TokenTTL time.Duration

	// Cooldown is the base cooldown after a verification rejection.
	// Default: 3s.
	Cooldown time.Duration

	// CooldownMax caps escalated cooldowns. Default: 60s.
	CooldownMax time.Duration

	// RejectionLimit is the number of rejections within RejectionWindow
	// after which cooldowns escalate exponentially. Default: 3.
	RejectionLimit int

	// RejectionWindow is the sliding window for RejectionLimit. Default: 1m.
	RejectionWindow time.Duration

	// BufferSize is the frame buffer capacity between capture and the run
	// loop. Default: 64.
	BufferSize int
}

// validate applies defaults and rejects unusable configurations.
func (c *Config) validate() error {
	var errs []error
	if c.WakeThreshold <= 0 || c.WakeThreshold > 1 {
		errs = append(errs, fmt.Errorf("wake threshold %.3f out of range (0, 1]", c.WakeThreshold))
	}
	if c.MinSpeech <= 0 {
		errs = append(errs, fmt.Errorf("min speech duration is required"))
	}
	if c.MaxSilence <= 0 {
		errs = append(errs, fmt.Errorf("max silence duration is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("token TTL is required"))
	}
	if c.EndSilence <= 0 {
		c.EndSilence = c.MaxSilence
	}
	if c.MaxCommand <= 0 {
		c.MaxCommand = 15 * time.Second
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 0.01
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 5 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 3 * time.Second
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 60 * time.Second
	}
	if c.RejectionLimit <= 0 {
		c.RejectionLimit = 3
	}
	if c.RejectionWindow <= 0 {
		c.RejectionWindow = time.Minute
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("listener: invalid config: %w", err)
	}
	return nil
}

// Deps are the collaborators a listener session needs. Wake, Extractor,
// and Verifier are required; Transcriber is required only when a challenge
// phrase is configured; a nil Metrics falls back to
// [observe.DefaultMetrics].
type Deps struct {
	Wake        wake.Detector
	Extractor   speaker.Extractor
	Verifier    *verify.Verifier
	Transcriber asr.Transcriber
	Metrics     *observe.Metrics
}

// Option configures a Listener during construction.
type Option func(*Listener)

// WithNow injects the clock used for wake timestamps, cooldown deadlines,
// and token issuance. Tests use this to step time deterministically.
func WithNow(now func() time.Time) Option {
	return func(l *Listener) {
		l.now = now
	}
}

// Listener is one continuous gatekeeping session. Create with [New], feed
// frames with [Feed], and consume [Utterances] while [Run] is active.
type Listener struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	frames     chan audio.Frame
	utterances chan types.VerifiedUtterance
	rejections chan Rejection

	mu    sync.Mutex
	state State

	// Run-goroutine-owned session state.
	guard          guardrail
	capture        []audio.Frame
	wakeAt         time.Time
	cooldownUntil  time.Time
	recentRejects  []time.Time
	cooldownActive bool
}

// New creates a Listener. Returns an error for an invalid config or
// missing dependencies.
func New(cfg Config, deps Deps, opts ...Option) (*Listener, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Wake == nil {
		return nil, fmt.Errorf("listener: wake detector is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("listener: embedding extractor is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("listener: verifier is required")
	}
	if cfg.ChallengePhrase != "" && deps.Transcriber == nil {
		return nil, fmt.Errorf("listener: challenge phrase configured but no transcriber supplied")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	l := &Listener{
		cfg:        cfg,
		deps:       deps,
		now:        time.Now,
		frames:     make(chan audio.Frame, cfg.BufferSize),
		utterances: make(chan types.VerifiedUtterance, 1),
		rejections: make(chan Rejection, 8),
		state:      StateIdle,
		guard: guardrail{
			minSpeech:       cfg.MinSpeech,
			maxSilence:      cfg.MaxSilence,
			endSilence:      cfg.EndSilence,
			maxCommand:      cfg.MaxCommand,
			energyThreshold: cfg.EnergyThreshold,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Feed offers a frame to the session. It never blocks: when the buffer is
// full the frame is dropped, a metric is recorded, and Feed returns false.
func (l *Listener) Feed(frame audio.Frame) bool {
	select {
	case l.frames <- frame:
		return true
	default:
		l.deps.Metrics.FramesDropped.Add(context.Background(), 1)
		return false
	}
}

// Utterances returns the channel of verified utterances. Closed when Run
// returns.
func (l *Listener) Utterances() <-chan types.VerifiedUtterance {
	return l.utterances
}

// Rejections returns the channel of rejection events. Events are dropped
// when no one is consuming; the channel exists for logging and tests, not
// for control flow.
func (l *Listener) Rejections() <-chan Rejection {
	return l.rejections
}

// State returns a synchronized snapshot of the session state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	if prev != s {
		slog.Debug("listener state transition", "from", prev.String(), "to", s.String())
	}
}

// Run consumes frames until ctx is cancelled. Frames are processed
// strictly in arrival order; verification runs inline so at most one
// attempt is in flight. Returns ctx.Err() on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	l.setState(StateListeningForWake)
	defer func() {
		l.leaveCooldown(ctx)
		l.setState(StateIdle)
		close(l.utterances)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-l.frames:
			l.processFrame(ctx, frame)
		}
	}
}

// processFrame advances the state machine by one frame.
func (l *Listener) processFrame(ctx context.Context, frame audio.Frame) {
	switch l.State() {
	case StateCooldown:
		if l.now().Before(l.cooldownUntil) {
			return // discard everything during cooldown
		}
		l.leaveCooldown(ctx)
		l.setState(StateListeningForWake)
		l.awaitWake(ctx, frame)

	case StateListeningForWake:
		l.awaitWake(ctx, frame)

	case StateGuardrailCheck:
		l.captureFrame(ctx, frame)
	}
}

// awaitWake feeds one frame to the wake detector and opens a capture when
// the confidence threshold is met.
func (l *Listener) awaitWake(ctx context.Context, frame audio.Frame) {
	ev, err := l.deps.Wake.ProcessFrame(frame)
	if err != nil {
		l.deps.Metrics.RecordCollaboratorError(ctx, "wake", "process_frame")
		slog.Warn("wake detector error", "err", err)
		return
	}
	if ev == nil {
		return
	}

	if ev.Confidence < l.cfg.WakeThreshold {
		l.deps.Metrics.WakeEvents.Add(ctx, 1, belowThresholdAttr)
		slog.Debug("wake event below threshold",
			"confidence", ev.Confidence, "threshold", l.cfg.WakeThreshold)
		return
	}

	l.deps.Metrics.WakeEvents.Add(ctx, 1, acceptedAttr)
	l.wakeAt = l.now()
	l.guard.reset()
	l.capture = l.capture[:0]
	l.setState(StateWakeDetected)
	l.setState(StateGuardrailCheck)
	slog.Info("wake word detected, capturing command audio", "confidence", ev.Confidence)
}

// captureFrame accumulates one post-wake frame under the guardrails.
func (l *Listener) captureFrame(ctx context.Context, frame audio.Frame) {
	l.capture = append(l.capture, frame)

	switch l.guard.observe(frame) {
	case guardContinue:
		return

	case guardReject:
		l.rejectGuardrail(ctx, ReasonSilence)

	case guardComplete:
		if !l.guard.satisfied() {
			l.rejectGuardrail(ctx, ReasonShortSpeech)
			return
		}
		l.verifySegment(ctx)
	}
}

// rejectGuardrail discards the capture without a cooldown: the trigger was
// noise, not a failed impersonation attempt.
func (l *Listener) rejectGuardrail(ctx context.Context, reason RejectReason) {
	latency := l.now().Sub(l.wakeAt)
	l.deps.Metrics.RecordGuardrailRejection(ctx, string(reason))
	l.deps.Metrics.RecordWakeToVerify(ctx, latency, "rejected")
	l.emitRejection(Rejection{Reason: reason, WakeToRejectLatency: latency, Err: ErrGuardrailRejected})
	slog.Info("guardrail rejected capture", "reason", string(reason),
		"speech", l.guard.speech, "silence", l.guard.silence)

	l.discardCapture()
	l.setState(StateListeningForWake)
}

// verifySegment runs the challenge pre-check, embedding extraction, and
// speaker verification for the captured segment.
func (l *Listener) verifySegment(ctx context.Context) {
	l.setState(StateVerifying)
	segment := l.segment()

	if l.cfg.ChallengePhrase != "" {
		if !l.challengePassed(ctx, segment) {
			return // rejection already recorded
		}
	}

	extractCtx, cancel := context.WithTimeout(ctx, l.cfg.VerifyTimeout)
	embedding, err := l.deps.Extractor.Extract(extractCtx, segment)
	cancel()
	if err != nil {
		l.deps.Metrics.RecordCollaboratorError(ctx, "extractor", "extract")
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			l.rejectVerification(ctx, ReasonTimeout, fmt.Errorf("listener: embedding extraction: %w", err))
		default:
			l.rejectVerification(ctx, ReasonExtraction, fmt.Errorf("listener: embedding extraction: %w", err))
		}
		return
	}

	result, err := l.deps.Verifier.Verify(embedding)
	if err != nil {
		l.deps.Metrics.RecordCollaboratorError(ctx, "verifier", "verify")
		l.rejectVerification(ctx, ReasonExtraction, fmt.Errorf("listener: verify: %w", err))
		return
	}
	if !result.Verified {
		slog.Warn("speaker verification rejected", "confidence", result.Confidence)
		l.rejectVerification(ctx, ReasonVerificationRejected, ErrVerificationRejected)
		return
	}

	l.acceptUtterance(ctx, segment, result)
}

// challengePassed transcribes the segment and checks the challenge phrase.
// On failure it records the rejection and returns false.
func (l *Listener) challengePassed(ctx context.Context, segment audio.Segment) bool {
	asrCtx, cancel := context.WithTimeout(ctx, l.cfg.VerifyTimeout)
	transcript, err := l.deps.Transcriber.Transcribe(asrCtx, segment)
	cancel()
	if err != nil {
		l.deps.Metrics.RecordCollaboratorError(ctx, "asr", "challenge_precheck")
		switch {
		case errors.Is(err, asr.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			l.rejectVerification(ctx, ReasonTimeout, fmt.Errorf("listener: challenge pre-check: %w", err))
		case errors.Is(err, asr.ErrLowConfidence):
			l.rejectVerification(ctx, ReasonChallengeMismatch, fmt.Errorf("listener: challenge pre-check: %w", err))
		default:
			l.rejectVerification(ctx, ReasonASRFailure, fmt.Errorf("listener: challenge pre-check: %w", err))
		}
		return false
	}

	if !phraseMatches(transcript.Text, l.cfg.ChallengePhrase) {
		slog.Warn("challenge phrase mismatch")
		l.rejectVerification(ctx, ReasonChallengeMismatch, ErrVerificationRejected)
		return false
	}
	return true
}

// acceptUtterance mints a token and emits the verified utterance.
func (l *Listener) acceptUtterance(ctx context.Context, segment audio.Segment, result verify.Result) {
	now := l.now()
	latency := now.Sub(l.wakeAt)
	l.setState(StateVerifiedActive)

	l.deps.Metrics.RecordWakeToVerify(ctx, latency, "verified")
	l.deps.Metrics.RecordVerification(ctx, "verified")

	utt := types.VerifiedUtterance{
		ID:                  uuid.New(),
		OwnerID:             result.OwnerID,
		Audio:               segment,
		WakeToVerifyLatency: latency,
		Token: types.VerificationToken{
			OwnerID:  result.OwnerID,
			Nonce:    uuid.New(),
			IssuedAt: now,
			TTL:      l.cfg.TokenTTL,
		},
	}

	slog.Info("speaker verified",
		"utterance_id", utt.ID,
		"confidence", result.Confidence,
		"wake_to_verify", latency,
	)

	select {
	case l.utterances <- utt:
	case <-ctx.Done():
	}

	// Success clears the rejection streak.
	l.recentRejects = l.recentRejects[:0]
	l.discardCapture()
	l.setState(StateListeningForWake)
}

// rejectVerification records a verification-path rejection and enters
// cooldown.
func (l *Listener) rejectVerification(ctx context.Context, reason RejectReason, err error) {
	latency := l.now().Sub(l.wakeAt)
	status := string(reason)
	if reason == ReasonVerificationRejected {
		status = "rejected"
	}
	l.deps.Metrics.RecordWakeToVerify(ctx, latency, "rejected")
	l.deps.Metrics.RecordVerification(ctx, status)
	l.emitRejection(Rejection{Reason: reason, WakeToRejectLatency: latency, Err: err})

	l.discardCapture()
	l.enterCooldown(ctx)
}

// enterCooldown starts (or escalates) the cooldown. Repeated rejections
// within the window double the duration each time, capped at CooldownMax.
func (l *Listener) enterCooldown(ctx context.Context) {
	now := l.now()

	// Slide the window.
	cutoff := now.Add(-l.cfg.RejectionWindow)
	kept := l.recentRejects[:0]
	for _, t := range l.recentRejects {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.recentRejects = append(kept, now)

	d := l.cfg.Cooldown
	if extra := len(l.recentRejects) - l.cfg.RejectionLimit; extra >= 0 {
		for i := 0; i <= extra && d < l.cfg.CooldownMax; i++ {
			d *= 2
		}
		if d > l.cfg.CooldownMax {
			d = l.cfg.CooldownMax
		}
	}

	l.cooldownUntil = now.Add(d)
	if !l.cooldownActive {
		l.cooldownActive = true
		l.deps.Metrics.CooldownActive.Add(ctx, 1)
	}
	l.setState(StateCooldown)
	slog.Info("listener entering cooldown",
		"duration", d, "recent_rejections", len(l.recentRejects))
}

// leaveCooldown clears the cooldown gauge if it was set.
func (l *Listener) leaveCooldown(ctx context.Context) {
	if l.cooldownActive {
		l.cooldownActive = false
		l.deps.Metrics.CooldownActive.Add(ctx, -1)
	}
}

// segment snapshots the current capture as an immutable audio segment.
func (l *Listener) segment() audio.Segment {
	frames := make([]audio.Frame, len(l.capture))
	copy(frames, l.capture)
	rate := 0
	if len(frames) > 0 {
		rate = frames[0].SampleRate
	}
	return audio.Segment{Frames: frames, SampleRate: rate}
}

// discardCapture drops accumulated audio and zeroes the guardrail counters.
func (l *Listener) discardCapture() {
	l.capture = l.capture[:0]
	l.guard.reset()
}

// emitRejection delivers a rejection event without ever blocking the loop.
func (l *Listener) emitRejection(r Rejection) {
	select {
	case l.rejections <- r:
	default:
	}
}

// phraseMatches reports whether the expected challenge phrase appears in
// the transcript, ignoring case and surrounding whitespace.
func phraseMatches(transcript, phrase string) bool {
	return strings.Contains(
		strings.ToLower(strings.TrimSpace(transcript)),
		strings.ToLower(strings.TrimSpace(phrase)),
	)
}

// Shared attribute sets for the wake counter.
var (
	acceptedAttr       = metric.WithAttributes(attribute.String("status", "accepted"))
	belowThresholdAttr = metric.WithAttributes(attribute.String("status", "below_threshold"))
)
