package listener_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicegate/internal/listener"
	"github.com/MrWong99/voicegate/internal/verify"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/asr"
	asrmock "github.com/MrWong99/voicegate/pkg/provider/asr/mock"
	speakermock "github.com/MrWong99/voicegate/pkg/provider/speaker/mock"
	"github.com/MrWong99/voicegate/pkg/provider/wake"
	wakemock "github.com/MrWong99/voicegate/pkg/provider/wake/mock"
	"github.com/MrWong99/voicegate/pkg/types"
)

// frame builds a 100ms frame at 16kHz with the given amplitude.
func frame(amplitude int16) audio.Frame {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.Frame{Samples: samples, SampleRate: 16000}
}

var (
	speechFrame  = frame(8000)
	silenceFrame = frame(0)
)

// fakeClock is a manually-stepped clock for cooldown tests. It counts
// reads so tests can tell when the run loop has looked at the time.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	reads int
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.t
}

func (c *fakeClock) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// enrolled is the voiceprint every test verifier compares against.
var enrolled = []float32{1, 0}

func testConfig() listener.Config {
	return listener.Config{
		WakeThreshold: 0.8,
		MinSpeech:     200 * time.Millisecond,
		MaxSilence:    300 * time.Millisecond,
		EndSilence:    200 * time.Millisecond,
		MaxCommand:    2 * time.Second,
		TokenTTL:      30 * time.Second,
		Cooldown:      time.Second,
		VerifyTimeout: time.Second,
		BufferSize:    32,
	}
}

func newVerifier(t *testing.T) *verify.Verifier {
	t.Helper()
	v, err := verify.New("owner-1", enrolled, 0.75)
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}
	return v
}

// startListener builds a listener around the given doubles and runs it
// until the test ends.
func startListener(t *testing.T, cfg listener.Config, deps listener.Deps, opts ...listener.Option) *listener.Listener {
	t.Helper()
	l, err := listener.New(cfg, deps, opts...)
	if err != nil {
		t.Fatalf("listener.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func waitForState(t *testing.T, l *listener.Listener, want listener.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", l.State(), want)
}

func waitForRejection(t *testing.T, l *listener.Listener) listener.Rejection {
	t.Helper()
	select {
	case r := <-l.Rejections():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rejection")
		return listener.Rejection{}
	}
}

func waitForUtterance(t *testing.T, l *listener.Listener) types.VerifiedUtterance {
	t.Helper()
	select {
	case u := <-l.Utterances():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for verified utterance")
		return types.VerifiedUtterance{}
	}
}

// TestWakeThreshold verifies that only wake events at or above the
// confidence threshold open a capture.
func TestWakeThreshold(t *testing.T) {
	t.Parallel()

	det := &wakemock.Detector{Script: []*wake.Event{
		{Confidence: 0.5}, // below 0.8, must be ignored
		{Confidence: 0.9},
	}}
	l := startListener(t, testConfig(), listener.Deps{
		Wake:      det,
		Extractor: &speakermock.Extractor{Embedding: enrolled},
		Verifier:  newVerifier(t),
	})
	waitForState(t, l, listener.StateListeningForWake)

	l.Feed(speechFrame)
	// A below-threshold event keeps the detector in the loop: the next
	// frame must still reach it.
	l.Feed(speechFrame)
	waitForState(t, l, listener.StateGuardrailCheck)

	if det.Calls != 2 {
		t.Errorf("detector calls = %d, want 2", det.Calls)
	}
}

// TestVerifiedUtterance walks the happy path end to end: wake, speech,
// trailing silence, verification, token minting.
func TestVerifiedUtterance(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	l := startListener(t, cfg, listener.Deps{
		Wake:      &wakemock.Detector{Script: []*wake.Event{{Confidence: 0.9}}},
		Extractor: &speakermock.Extractor{Embedding: []float32{1, 0}}, // cosine 1.0
		Verifier:  newVerifier(t),
	})
	waitForState(t, l, listener.StateListeningForWake)

	l.Feed(speechFrame) // wake
	l.Feed(speechFrame)
	l.Feed(speechFrame) // 200ms speech
	l.Feed(silenceFrame)
	l.Feed(silenceFrame) // 200ms trailing silence ends the capture

	utt := waitForUtterance(t, l)
	if utt.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want %q", utt.OwnerID, "owner-1")
	}
	if utt.Token.OwnerID != "owner-1" {
		t.Errorf("Token.OwnerID = %q, want %q", utt.Token.OwnerID, "owner-1")
	}
	if utt.Token.TTL != cfg.TokenTTL {
		t.Errorf("Token.TTL = %v, want %v", utt.Token.TTL, cfg.TokenTTL)
	}
	if utt.Token.Nonce == utt.ID {
		t.Error("token nonce must not reuse the utterance ID")
	}
	if got := utt.Audio.Duration(); got != 400*time.Millisecond {
		t.Errorf("captured audio duration = %v, want 400ms", got)
	}

	waitForState(t, l, listener.StateListeningForWake)
}

// TestRejectedSpeakerEntersCooldown verifies that a below-threshold
// similarity score rejects the utterance and starts a cooldown, and that
// frames during cooldown never reach the wake detector.
func TestRejectedSpeakerEntersCooldown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	det := &wakemock.Detector{Script: []*wake.Event{
		{Confidence: 0.9},
		{Confidence: 0.9},
	}}
	l := startListener(t, testConfig(), listener.Deps{
		Wake: det,
		// Cosine against enrolled [1,0] is 0.6, below the 0.75 threshold.
		Extractor: &speakermock.Extractor{Embedding: []float32{0.6, 0.8}},
		Verifier:  newVerifier(t),
	}, listener.WithNow(clock.Now))
	waitForState(t, l, listener.StateListeningForWake)

	l.Feed(speechFrame) // wake
	l.Feed(speechFrame)
	l.Feed(speechFrame)
	l.Feed(silenceFrame)
	l.Feed(silenceFrame)

	rej := waitForRejection(t, l)
	if rej.Reason != listener.ReasonVerificationRejected {
		t.Fatalf("rejection reason = %q, want %q", rej.Reason, listener.ReasonVerificationRejected)
	}
	waitForState(t, l, listener.StateCooldown)

	// Still inside the cooldown window: this frame must be discarded. The
	// cooldown check reads the clock, so a new read proves the frame was
	// processed before the clock advances.
	before := clock.Reads()
	l.Feed(speechFrame)
	deadline := time.Now().Add(2 * time.Second)
	for clock.Reads() == before && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if clock.Reads() == before {
		t.Fatal("timed out waiting for the cooldown frame to be processed")
	}

	// Past the cooldown deadline the next frame reaches the detector again.
	clock.Advance(5 * time.Second)
	l.Feed(speechFrame)
	waitForState(t, l, listener.StateGuardrailCheck)

	if det.Calls != 2 {
		t.Errorf("detector calls = %d, want 2 (cooldown frame must not reach the detector)", det.Calls)
	}
}

// TestCooldownEscalation verifies the anti-brute-force behaviour: once the
// rejection count within the window passes the limit, each further
// rejection doubles the cooldown until it hits the cap.
func TestCooldownEscalation(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cooldown = time.Second
	cfg.CooldownMax = 4 * time.Second
	cfg.RejectionLimit = 2
	cfg.RejectionWindow = 10 * time.Minute

	clock := newFakeClock()
	det := &wakemock.Detector{Script: []*wake.Event{
		{Confidence: 0.9},
		{Confidence: 0.9},
		{Confidence: 0.9},
		{Confidence: 0.9},
	}}
	l := startListener(t, cfg, listener.Deps{
		Wake: det,
		// Cosine against enrolled [1,0] is 0.6, below the 0.75 threshold.
		Extractor: &speakermock.Extractor{Embedding: []float32{0.6, 0.8}},
		Verifier:  newVerifier(t),
	}, listener.WithNow(clock.Now))
	waitForState(t, l, listener.StateListeningForWake)

	// With limit 2: 1s, 2s, 4s, then 8s capped at 4s.
	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}
	for i, want := range expected {
		// The first frame wakes the detector; on later rounds it also ends
		// the previous cooldown, whose deadline the clock has just passed.
		l.Feed(speechFrame)
		l.Feed(speechFrame)
		l.Feed(speechFrame)
		l.Feed(silenceFrame)
		l.Feed(silenceFrame)

		rej := waitForRejection(t, l)
		if rej.Reason != listener.ReasonVerificationRejected {
			t.Fatalf("round %d: rejection reason = %q, want %q", i+1, rej.Reason, listener.ReasonVerificationRejected)
		}
		waitForState(t, l, listener.StateCooldown)

		// One millisecond before the expected deadline the frame must still
		// be discarded. The cooldown check reads the clock, so a new read
		// proves the frame was processed.
		clock.Advance(want - time.Millisecond)
		before := clock.Reads()
		l.Feed(silenceFrame)
		deadline := time.Now().Add(2 * time.Second)
		for clock.Reads() == before && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		if clock.Reads() == before {
			t.Fatalf("round %d: timed out waiting for the cooldown frame to be processed", i+1)
		}
		if got := l.State(); got != listener.StateCooldown {
			t.Fatalf("round %d: state = %v before the %v deadline, want %v", i+1, got, want, listener.StateCooldown)
		}

		clock.Advance(2 * time.Millisecond)
	}

	if det.Calls != len(expected) {
		t.Errorf("detector calls = %d, want %d (cooldown frames must not reach the detector)", det.Calls, len(expected))
	}
}

// TestCooldownStreakResetOnSuccess verifies that a successful verification
// clears the rejection streak: the next rejection starts over at the base
// cooldown instead of continuing the escalation.
func TestCooldownStreakResetOnSuccess(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cooldown = time.Second
	cfg.CooldownMax = 8 * time.Second
	cfg.RejectionLimit = 2
	cfg.RejectionWindow = 10 * time.Minute

	clock := newFakeClock()
	impostor := []float32{0.6, 0.8} // cosine 0.6 against enrolled [1,0]
	var extractMu sync.Mutex
	extractions := 0
	ext := &speakermock.Extractor{ExtractFunc: func(context.Context, audio.Segment) ([]float32, error) {
		extractMu.Lock()
		defer extractMu.Unlock()
		extractions++
		if extractions == 3 {
			return enrolled, nil // the owner speaks on the third attempt
		}
		return impostor, nil
	}}
	l := startListener(t, cfg, listener.Deps{
		Wake: &wakemock.Detector{Script: []*wake.Event{
			{Confidence: 0.9},
			{Confidence: 0.9},
			{Confidence: 0.9},
			{Confidence: 0.9},
			{Confidence: 0.9},
		}},
		Extractor: ext,
		Verifier:  newVerifier(t),
	}, listener.WithNow(clock.Now))
	waitForState(t, l, listener.StateListeningForWake)

	feedCapture := func() {
		l.Feed(speechFrame) // wake (and cooldown exit on later rounds)
		l.Feed(speechFrame)
		l.Feed(speechFrame)
		l.Feed(silenceFrame)
		l.Feed(silenceFrame)
	}

	// Two rejections: cooldowns of 1s then 2s.
	feedCapture()
	waitForRejection(t, l)
	waitForState(t, l, listener.StateCooldown)
	clock.Advance(time.Second + time.Millisecond)

	feedCapture()
	waitForRejection(t, l)
	waitForState(t, l, listener.StateCooldown)
	clock.Advance(2*time.Second + time.Millisecond)

	// The owner verifies successfully, which must clear the streak.
	feedCapture()
	waitForUtterance(t, l)
	waitForState(t, l, listener.StateListeningForWake)

	// The next rejection starts over at the base 1s cooldown. Had the
	// streak survived, it would be 4s and the wake frame below would still
	// fall inside the cooldown.
	feedCapture()
	waitForRejection(t, l)
	waitForState(t, l, listener.StateCooldown)
	clock.Advance(time.Second + time.Millisecond)

	l.Feed(speechFrame)
	waitForState(t, l, listener.StateGuardrailCheck)
}

// TestExtractorTimeoutEntersCooldown verifies that an embedding extraction
// deadline is reported as a timeout rejection followed by a cooldown.
func TestExtractorTimeoutEntersCooldown(t *testing.T) {
	t.Parallel()

	l := startListener(t, testConfig(), listener.Deps{
		Wake: &wakemock.Detector{Script: []*wake.Event{{Confidence: 0.9}}},
		Extractor: &speakermock.Extractor{ExtractFunc: func(context.Context, audio.Segment) ([]float32, error) {
			return nil, context.DeadlineExceeded
		}},
		Verifier: newVerifier(t),
	})
	waitForState(t, l, listener.StateListeningForWake)

	l.Feed(speechFrame) // wake
	l.Feed(speechFrame)
	l.Feed(speechFrame)
	l.Feed(silenceFrame)
	l.Feed(silenceFrame)

	rej := waitForRejection(t, l)
	if rej.Reason != listener.ReasonTimeout {
		t.Fatalf("rejection reason = %q, want %q", rej.Reason, listener.ReasonTimeout)
	}
	if !errors.Is(rej.Err, context.DeadlineExceeded) {
		t.Errorf("rejection err = %v, want wrapped context.DeadlineExceeded", rej.Err)
	}
	waitForState(t, l, listener.StateCooldown)
}

// TestChallengeTimeoutEntersCooldown verifies that a transcriber timeout
// during the challenge pre-check is reported as a timeout rejection with a
// cooldown, before any embedding extraction happens.
func TestChallengeTimeoutEntersCooldown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ChallengePhrase = "ferrous aquamarine"

	ext := &speakermock.Extractor{Embedding: enrolled}
	l := startListener(t, cfg, listener.Deps{
		Wake:        &wakemock.Detector{Script: []*wake.Event{{Confidence: 0.9}}},
		Extractor:   ext,
		Verifier:    newVerifier(t),
		Transcriber: &asrmock.Transcriber{Err: asr.ErrTimeout},
	})
	waitForState(t, l, listener.StateListeningForWake)

	l.Feed(speechFrame) // wake
	l.Feed(speechFrame)
	l.Feed(speechFrame)
	l.Feed(silenceFrame)
	l.Feed(silenceFrame)

	rej := waitForRejection(t, l)
	if rej.Reason != listener.ReasonTimeout {
		t.Fatalf("rejection reason = %q, want %q", rej.Reason, listener.ReasonTimeout)
	}
	if !errors.Is(rej.Err, asr.ErrTimeout) {
		t.Errorf("rejection err = %v, want wrapped asr.ErrTimeout", rej.Err)
	}
	waitForState(t, l, listener.StateCooldown)
	if ext.Calls != 0 {
		t.Errorf("extractor calls = %d, want 0 (pre-check timed out before extraction)", ext.Calls)
	}
}

// TestShortSpeechNeverReachesVerification verifies that a capture ending
// below the minimum speech duration is discarded before any embedding
// extraction happens.
func TestShortSpeechNeverReachesVerification(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinSpeech = 400 * time.Millisecond
	cfg.MaxCommand = 600 * time.Millisecond

	ext := &speakermock.Extractor{Embedding: enrolled}
	l := startListener(t, cfg, listener.Deps{
		Wake:      &wakemock.Detector{Script: []*wake.Event{{Confidence: 0.9}}},
		Extractor: ext,
		Verifier:  newVerifier(t),
	})
	waitForState(t, l, listener.StateListeningForWake)

	l.Feed(speechFrame) // wake
	l.Feed(speechFrame)
	l.Feed(speechFrame)
	l.Feed(speechFrame) // 300ms speech, below the 400ms minimum
	l.Feed(silenceFrame)
	l.Feed(silenceFrame)
	l.Feed(silenceFrame) // 600ms cap reached

	rej := waitForRejection(t, l)
	if rej.Reason != listener.ReasonShortSpeech {
		t.Fatalf("rejection reason = %q, want %q", rej.Reason, listener.ReasonShortSpeech)
	}
	// Guardrail rejections go straight back to listening, no cooldown.
	waitForState(t, l, listener.StateListeningForWake)

	if ext.Calls != 0 {
		t.Errorf("extractor calls = %d, want 0", ext.Calls)
	}
}

// TestSilenceResetsCapture verifies that exhausting the silence budget
// discards the capture and returns to listening without a cooldown.
func TestSilenceResetsCapture(t *testing.T) {
	t.Parallel()

	l := startListener(t, testConfig(), listener.Deps{
		Wake:      &wakemock.Detector{Script: []*wake.Event{{Confidence: 0.9}}},
		Extractor: &speakermock.Extractor{Embedding: enrolled},
		Verifier:  newVerifier(t),
	})
	waitForState(t, l, listener.StateListeningForWake)

	l.Feed(speechFrame) // wake
	for i := 0; i < 4; i++ {
		l.Feed(silenceFrame) // 400ms silence > 300ms budget
	}

	rej := waitForRejection(t, l)
	if rej.Reason != listener.ReasonSilence {
		t.Fatalf("rejection reason = %q, want %q", rej.Reason, listener.ReasonSilence)
	}
	waitForState(t, l, listener.StateListeningForWake)
}

// TestChallengePhrase verifies the replay pre-check: the transcript must
// contain the configured phrase before verification is attempted.
func TestChallengePhrase(t *testing.T) {
	t.Parallel()

	feedCapture := func(l *listener.Listener) {
		l.Feed(speechFrame) // wake
		l.Feed(speechFrame)
		l.Feed(speechFrame)
		l.Feed(silenceFrame)
		l.Feed(silenceFrame)
	}

	t.Run("mismatch rejects and cools down", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.ChallengePhrase = "ferrous aquamarine"

		ext := &speakermock.Extractor{Embedding: enrolled}
		l := startListener(t, cfg, listener.Deps{
			Wake:        &wakemock.Detector{Script: []*wake.Event{{Confidence: 0.9}}},
			Extractor:   ext,
			Verifier:    newVerifier(t),
			Transcriber: &asrmock.Transcriber{Result: types.Transcript{Text: "open sesame", Confidence: 0.99}},
		})
		waitForState(t, l, listener.StateListeningForWake)
		feedCapture(l)

		rej := waitForRejection(t, l)
		if rej.Reason != listener.ReasonChallengeMismatch {
			t.Fatalf("rejection reason = %q, want %q", rej.Reason, listener.ReasonChallengeMismatch)
		}
		waitForState(t, l, listener.StateCooldown)
		if ext.Calls != 0 {
			t.Errorf("extractor calls = %d, want 0 (challenge failed before extraction)", ext.Calls)
		}
	})

	t.Run("match proceeds to verification", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.ChallengePhrase = "ferrous aquamarine"

		l := startListener(t, cfg, listener.Deps{
			Wake:        &wakemock.Detector{Script: []*wake.Event{{Confidence: 0.9}}},
			Extractor:   &speakermock.Extractor{Embedding: enrolled},
			Verifier:    newVerifier(t),
			Transcriber: &asrmock.Transcriber{Result: types.Transcript{Text: "Ferrous Aquamarine, send the report", Confidence: 0.97}},
		})
		waitForState(t, l, listener.StateListeningForWake)
		feedCapture(l)

		utt := waitForUtterance(t, l)
		if utt.OwnerID != "owner-1" {
			t.Errorf("OwnerID = %q, want %q", utt.OwnerID, "owner-1")
		}
	})
}

// TestFeedDropsWhenFull verifies that Feed never blocks: a full buffer
// drops the frame and reports it.
func TestFeedDropsWhenFull(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BufferSize = 1
	l, err := listener.New(cfg, listener.Deps{
		Wake:      &wakemock.Detector{},
		Extractor: &speakermock.Extractor{Embedding: enrolled},
		Verifier:  newVerifier(t),
	})
	if err != nil {
		t.Fatalf("listener.New: %v", err)
	}
	// Run is deliberately not started: the buffer fills immediately.

	if !l.Feed(speechFrame) {
		t.Fatal("first Feed = false, want true")
	}
	if l.Feed(speechFrame) {
		t.Error("second Feed = true, want false (buffer full)")
	}
}

// TestConfigValidation checks the required-field and dependency errors.
func TestConfigValidation(t *testing.T) {
	t.Parallel()

	deps := listener.Deps{
		Wake:      &wakemock.Detector{},
		Extractor: &speakermock.Extractor{Embedding: enrolled},
		Verifier:  newVerifier(t),
	}

	bad := testConfig()
	bad.WakeThreshold = 1.5
	if _, err := listener.New(bad, deps); err == nil {
		t.Error("New accepted wake threshold 1.5")
	}

	bad = testConfig()
	bad.TokenTTL = 0
	if _, err := listener.New(bad, deps); err == nil {
		t.Error("New accepted zero token TTL")
	}

	challenge := testConfig()
	challenge.ChallengePhrase = "anything"
	if _, err := listener.New(challenge, deps); err == nil {
		t.Error("New accepted a challenge phrase without a transcriber")
	}

	noWake := deps
	noWake.Wake = nil
	if _, err := listener.New(testConfig(), noWake); err == nil {
		t.Error("New accepted nil wake detector")
	}
}
