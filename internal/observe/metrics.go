// Package observe provides application-wide observability primitives for
// voicegate: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// via the standard /metrics endpoint (see [InitProvider]). A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
//
// Recording is fire-and-forget by construction: instrument calls never
// block and never return errors to the pipeline.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicegate metrics.
const meterName = "github.com/MrWong99/voicegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// WakeToVerifyDuration tracks time from wake detection to the
	// verification decision. Use with attribute:
	//   attribute.String("status", "verified"|"rejected")
	WakeToVerifyDuration metric.Float64Histogram

	// ASRDuration tracks one-shot transcription latency.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency. Use with attribute:
	//   attribute.String("tier", ...)
	LLMDuration metric.Float64Histogram

	// ToolDispatchDuration tracks gate-authorized tool execution latency.
	ToolDispatchDuration metric.Float64Histogram

	// --- Counters ---

	// WakeEvents counts wake detections. Use with attribute:
	//   attribute.String("status", "accepted"|"below_threshold")
	WakeEvents metric.Int64Counter

	// Verifications counts verification attempts. Use with attribute:
	//   attribute.String("status", "verified"|"rejected"|"timeout"|"error")
	Verifications metric.Int64Counter

	// GuardrailRejections counts utterances discarded before verification.
	// Use with attribute:
	//   attribute.String("reason", "silence"|"short_speech"|"challenge_mismatch")
	GuardrailRejections metric.Int64Counter

	// FramesDropped counts audio frames discarded because the listener
	// buffer was full. Dropping is always preferred over backpressure on
	// the capture source.
	FramesDropped metric.Int64Counter

	// RoutingDecisions counts router verdicts. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("tier", ...)
	RoutingDecisions metric.Int64Counter

	// ToolDispatches counts gate dispatch attempts. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolDispatches metric.Int64Counter

	// CollaboratorErrors counts failures of external capabilities. Use with
	// attributes:
	//   attribute.String("collaborator", ...), attribute.String("kind", ...)
	CollaboratorErrors metric.Int64Counter

	// --- Gauges ---

	// CooldownActive tracks whether a listener session is in cooldown
	// (0 or 1 per session).
	CooldownActive metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.WakeToVerifyDuration, err = m.Float64Histogram("voicegate.wake_to_verify.duration",
		metric.WithDescription("Time from wake detection to the verification decision."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("voicegate.asr.duration",
		metric.WithDescription("Latency of one-shot segment transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voicegate.llm.duration",
		metric.WithDescription("Latency of LLM completion by tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDispatchDuration, err = m.Float64Histogram("voicegate.tool_dispatch.duration",
		metric.WithDescription("Latency of authorized tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeEvents, err = m.Int64Counter("voicegate.wake.events",
		metric.WithDescription("Wake detections by acceptance status."),
	); err != nil {
		return nil, err
	}
	if met.Verifications, err = m.Int64Counter("voicegate.verifications",
		metric.WithDescription("Speaker verification attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.GuardrailRejections, err = m.Int64Counter("voicegate.guardrail.rejections",
		metric.WithDescription("Utterances discarded by the guardrails before verification."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicegate.frames.dropped",
		metric.WithDescription("Audio frames dropped because the listener buffer was full."),
	); err != nil {
		return nil, err
	}
	if met.RoutingDecisions, err = m.Int64Counter("voicegate.routing.decisions",
		metric.WithDescription("Router verdicts by intent and model tier."),
	); err != nil {
		return nil, err
	}
	if met.ToolDispatches, err = m.Int64Counter("voicegate.tool.dispatches",
		metric.WithDescription("Gate dispatch attempts by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("voicegate.collaborator.errors",
		metric.WithDescription("External capability failures by collaborator and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.CooldownActive, err = m.Int64UpDownCounter("voicegate.cooldown.active",
		metric.WithDescription("Listener sessions currently in cooldown."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordWakeToVerify records one wake-to-verify measurement with its outcome.
// Called on both the verified and every rejection path — no utterance
// crosses the trust boundary without this measurement.
func (m *Metrics) RecordWakeToVerify(ctx context.Context, d time.Duration, status string) {
	m.WakeToVerifyDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordVerification records a verification attempt outcome.
func (m *Metrics) RecordVerification(ctx context.Context, status string) {
	m.Verifications.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordGuardrailRejection records a pre-verification rejection with its reason.
func (m *Metrics) RecordGuardrailRejection(ctx context.Context, reason string) {
	m.GuardrailRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordToolDispatch records a gate dispatch attempt.
func (m *Metrics) RecordToolDispatch(ctx context.Context, tool, status string) {
	m.ToolDispatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCollaboratorError records an external capability failure.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator, kind string) {
	m.CollaboratorErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("kind", kind),
		),
	)
}
