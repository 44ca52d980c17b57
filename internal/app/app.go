// Package app wires all voicegate subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem from the config, Run executes the gatekeeping loop plus the
// HTTP endpoints, and the whole thing stops when the supplied context is
// cancelled.
//
// For testing, inject mock collaborators through the [Providers] struct
// and functional options. When an option is not provided, New builds real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/internal/gate"
	"github.com/MrWong99/voicegate/internal/health"
	"github.com/MrWong99/voicegate/internal/intent"
	"github.com/MrWong99/voicegate/internal/listener"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/internal/route"
	"github.com/MrWong99/voicegate/internal/tools"
	"github.com/MrWong99/voicegate/internal/verify"
	"github.com/MrWong99/voicegate/internal/voiceprint"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/asr"
	"github.com/MrWong99/voicegate/pkg/provider/llm"
	"github.com/MrWong99/voicegate/pkg/provider/speaker"
	"github.com/MrWong99/voicegate/pkg/provider/wake"
	"github.com/MrWong99/voicegate/pkg/types"
)

// clarificationReply is spoken back when the classifier is too unsure to
// act on a transcript.
const clarificationReply = "I did not quite catch that. Could you say it again?"

// requestTimeout bounds one full utterance handling pass (transcription,
// completion, tool dispatch).
const requestTimeout = 60 * time.Second

// Providers holds one interface value per external capability slot.
// Populated by main.go from the config; tests inject mocks directly.
type Providers struct {
	// Wake detects the wake word in incoming frames.
	Wake wake.Detector

	// Speaker extracts voice embeddings for verification.
	Speaker speaker.Extractor

	// ASR transcribes verified utterances (and challenge pre-checks).
	ASR asr.Transcriber

	// LLM maps each model tier to its backend. Both tiers should be set;
	// a routed request to a missing tier fails.
	LLM map[types.ModelTier]llm.Provider
}

// ToolResult is the outcome of one gate dispatch requested by the model.
type ToolResult struct {
	Name   string
	Result any
	Err    error
}

// Response is the application's output for one verified utterance.
type Response struct {
	// UtteranceID links back to the verified utterance.
	UtteranceID uuid.UUID

	// Transcript is the recognised command text.
	Transcript string

	// Decision is the routing verdict the response was produced under.
	Decision types.RoutingDecision

	// Text is the assistant's reply.
	Text string

	// ToolResults lists gate dispatches requested by the model, in order.
	ToolResults []ToolResult

	// Err is set when handling failed after verification.
	Err error
}

// App owns all subsystem lifetimes and orchestrates the gatekeeping
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	store     *voiceprint.Store
	verifier  *verify.Verifier
	listener  *listener.Listener
	router    *route.Router
	gate      *gate.Gate
	history   *History
	health    *health.Handler
	responses chan Response

	key []byte
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithKey injects the voiceprint key directly instead of reading it from
// the environment variable named by owner.key_env.
func WithKey(key []byte) Option {
	return func(a *App) { a.key = key }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (built from the config); use Option functions
// to inject test doubles.
//
// New loads and decrypts the enrolled voiceprint synchronously: an
// unenrolled owner or a rotated key is a startup error, not a runtime
// surprise.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		responses: make(chan Response, 8),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initVerifier(); err != nil {
		return nil, fmt.Errorf("app: init verifier: %w", err)
	}
	if err := a.initGate(); err != nil {
		return nil, fmt.Errorf("app: init gate: %w", err)
	}
	if err := a.initRouter(); err != nil {
		return nil, fmt.Errorf("app: init router: %w", err)
	}
	if err := a.initListener(); err != nil {
		return nil, fmt.Errorf("app: init listener: %w", err)
	}

	historySize := cfg.Routing.HistorySize
	if historySize <= 0 {
		historySize = 6
	}
	a.history = NewHistory(historySize, cfg.Routing.HistoryMaxAge.Std())

	a.health = health.New(
		health.VoiceprintEnrolled(a.store),
		health.ProviderConfigured("asr", cfg.Providers.ASR.Name),
		health.ProviderConfigured("llm_light", cfg.Providers.LLMLight.Name),
		health.ProviderConfigured("llm_heavy", cfg.Providers.LLMHeavy.Name),
	)

	return a, nil
}

// initVerifier loads the encrypted voiceprint and builds the verifier.
func (a *App) initVerifier() error {
	a.store = voiceprint.NewStore(a.cfg.Owner.VoiceprintPath)

	key := a.key
	if len(key) == 0 {
		key = []byte(os.Getenv(a.cfg.Owner.KeyEnv))
	}
	if len(key) == 0 {
		return fmt.Errorf("%w (set %s)", voiceprint.ErrMissingKey, a.cfg.Owner.KeyEnv)
	}

	ownerID, embedding, err := a.store.Load(key)
	if err != nil {
		return err
	}
	if ownerID != a.cfg.Owner.ID {
		return fmt.Errorf("app: voiceprint is enrolled for %q but config names owner %q", ownerID, a.cfg.Owner.ID)
	}

	a.verifier, err = verify.New(ownerID, embedding, a.cfg.Owner.VerifyThreshold)
	return err
}

// initGate builds the tool gate and registers the built-in tools.
func (a *App) initGate() error {
	g, err := gate.New(a.cfg.Owner.ID, a.metrics)
	if err != nil {
		return err
	}
	if err := tools.RegisterBuiltins(g, tools.Config{
		EmailProvider:  a.cfg.Tools.EmailProvider,
		EmailDryRun:    a.cfg.Tools.EmailDryRun,
		CallProvider:   a.cfg.Tools.CallProvider,
		BlogPublishDir: a.cfg.Tools.BlogPublishDir,
	}); err != nil {
		return err
	}
	a.gate = g
	return nil
}

func (a *App) initRouter() error {
	r, err := route.New(route.Config{
		ComplexityCutoff:    a.cfg.Routing.ComplexityCutoff,
		ConfidenceThreshold: a.cfg.Routing.ConfidenceThreshold,
		SystemPrompt:        a.cfg.Routing.SystemPrompt,
	}, a.metrics)
	if err != nil {
		return err
	}
	a.router = r
	return nil
}

func (a *App) initListener() error {
	lc := a.cfg.Listener
	l, err := listener.New(listener.Config{
		WakeThreshold:   lc.WakeThreshold,
		MinSpeech:       lc.MinSpeech.Std(),
		MaxSilence:      lc.MaxSilence.Std(),
		EndSilence:      lc.EndSilence.Std(),
		MaxCommand:      lc.MaxCommand.Std(),
		EnergyThreshold: lc.EnergyThreshold,
		ChallengePhrase: lc.ChallengePhrase,
		VerifyTimeout:   lc.VerifyTimeout.Std(),
		TokenTTL:        lc.TokenTTL.Std(),
		Cooldown:        lc.Cooldown.Std(),
		CooldownMax:     lc.CooldownMax.Std(),
		RejectionLimit:  lc.RejectionLimit,
		RejectionWindow: lc.RejectionWindow.Std(),
		BufferSize:      lc.BufferSize,
	}, listener.Deps{
		Wake:        a.providers.Wake,
		Extractor:   a.providers.Speaker,
		Verifier:    a.verifier,
		Transcriber: a.providers.ASR,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}
	a.listener = l
	return nil
}

// Feed offers one audio frame to the gatekeeping loop. Never blocks.
func (a *App) Feed(frame audio.Frame) bool {
	return a.listener.Feed(frame)
}

// Responses returns the channel of handled utterances.
func (a *App) Responses() <-chan Response {
	return a.responses
}

// Gate exposes the tool gate, primarily for enrollment tooling and tests.
func (a *App) Gate() *gate.Gate {
	return a.gate
}

// ListenerState returns the gatekeeping state machine's current state.
func (a *App) ListenerState() listener.State {
	return a.listener.State()
}

// Run executes the pipeline until ctx is cancelled: the listener loop, the
// utterance handler, and the HTTP server for health and metrics.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.listener.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case utt, ok := <-a.listener.Utterances():
				if !ok {
					return nil
				}
				a.handleUtterance(gctx, utt)
			}
		}
	})

	g.Go(func() error {
		return a.serveHTTP(gctx)
	})

	return g.Wait()
}

// serveHTTP runs the health and metrics endpoints until ctx is cancelled.
func (a *App) serveHTTP(ctx context.Context) error {
	if a.cfg.Server.ListenAddr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	}
}

// handleUtterance processes one verified utterance end to end:
// transcription, classification, routing, completion, tool dispatch.
func (a *App) handleUtterance(ctx context.Context, utt types.VerifiedUtterance) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	transcript, err := a.transcribe(ctx, utt.Audio)
	if err != nil {
		a.metrics.RecordCollaboratorError(ctx, "asr", "transcribe")
		slog.Error("transcription failed", "utterance_id", utt.ID, "err", err)
		a.emit(Response{UtteranceID: utt.ID, Err: err})
		return
	}

	classification := intent.Classify(transcript.Text)
	decision := a.router.Route(ctx, classification, a.gate.Catalog())
	slog.Info("utterance routed",
		"utterance_id", utt.ID,
		"intent", decision.Intent,
		"tier", string(decision.ModelTier),
		"complexity", decision.ComplexityScore,
		"clarification", decision.ClarificationNeeded,
	)

	if decision.ClarificationNeeded {
		a.history.Add(llm.RoleUser, transcript.Text)
		a.history.Add(llm.RoleAssistant, clarificationReply)
		a.emit(Response{
			UtteranceID: utt.ID,
			Transcript:  transcript.Text,
			Decision:    decision,
			Text:        clarificationReply,
		})
		return
	}

	provider := a.providers.LLM[decision.ModelTier]
	if provider == nil {
		err := fmt.Errorf("app: no LLM provider for tier %q", decision.ModelTier)
		slog.Error("completion failed", "utterance_id", utt.ID, "err", err)
		a.emit(Response{UtteranceID: utt.ID, Transcript: transcript.Text, Decision: decision, Err: err})
		return
	}

	req := a.router.BuildRequest(decision, a.history.Messages(), transcript.Text)
	start := time.Now()
	completion, err := provider.Complete(ctx, req)
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("tier", string(decision.ModelTier))),
	)
	if err != nil {
		a.metrics.RecordCollaboratorError(ctx, "llm", string(decision.ModelTier))
		slog.Error("completion failed", "utterance_id", utt.ID, "model", provider.ModelID(), "err", err)
		a.emit(Response{UtteranceID: utt.ID, Transcript: transcript.Text, Decision: decision, Err: err})
		return
	}

	a.history.Add(llm.RoleUser, transcript.Text)
	if completion.Text != "" {
		a.history.Add(llm.RoleAssistant, completion.Text)
	}

	results := a.dispatchToolCalls(ctx, utt.Token, completion.ToolCalls)

	a.emit(Response{
		UtteranceID: utt.ID,
		Transcript:  transcript.Text,
		Decision:    decision,
		Text:        completion.Text,
		ToolResults: results,
	})
}

// transcribe runs ASR over the segment with a single bounded retry for
// timeouts. Anything else fails immediately.
func (a *App) transcribe(ctx context.Context, segment audio.Segment) (types.Transcript, error) {
	start := time.Now()
	transcript, err := a.providers.ASR.Transcribe(ctx, segment)
	a.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil {
		return transcript, nil
	}
	if !errors.Is(err, asr.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		return types.Transcript{}, err
	}

	slog.Warn("transcription timed out, retrying once", "err", err)
	start = time.Now()
	transcript, err = a.providers.ASR.Transcribe(ctx, segment)
	a.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	return transcript, err
}

// dispatchToolCalls pushes each model-requested call through the gate.
// The token is single-use: with several requested calls only the first
// consumes it and the rest are refused, which is the intended cap of one
// privileged action per verified utterance.
func (a *App) dispatchToolCalls(ctx context.Context, token types.VerificationToken, calls []llm.ToolCall) []ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		var args map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				results = append(results, ToolResult{
					Name: call.Name,
					Err:  fmt.Errorf("app: decode tool arguments: %w", err),
				})
				continue
			}
		}

		result, err := a.gate.AuthorizeAndDispatch(ctx, token, call.Name, args)
		if err != nil {
			slog.Warn("tool dispatch failed", "tool", call.Name, "err", err)
		}
		results = append(results, ToolResult{Name: call.Name, Result: result, Err: err})
	}
	return results
}

// emit delivers a response without blocking the handler loop.
func (a *App) emit(r Response) {
	select {
	case a.responses <- r:
	default:
		slog.Warn("response dropped, consumer not keeping up", "utterance_id", r.UtteranceID)
	}
}
