// Package types holds the shared data types that flow between voicegate
// pipeline stages: verified utterances, verification tokens, transcripts,
// and routing decisions.
//
// Every value here is produced by exactly one stage and consumed downstream;
// none of the types carry behaviour beyond simple accessors so that provider
// packages can depend on them without import cycles.
package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicegate/pkg/audio"
)

// ModelTier selects the LLM capability class a routed request is sent to.
type ModelTier string

const (
	// TierLight is the low-cost, low-latency model used for simple requests.
	TierLight ModelTier = "light"

	// TierHeavy is the high-capability model used for complex requests.
	TierHeavy ModelTier = "heavy"
)

// IsValid reports whether t is a recognised model tier.
func (t ModelTier) IsValid() bool {
	return t == TierLight || t == TierHeavy
}

// VerificationToken is the short-lived, single-use proof that an utterance
// was spoken by the enrolled owner. The listener mints one per successful
// verification; the tool gate consumes it exactly once — on the first
// dispatch attempt, whether or not that attempt succeeds.
type VerificationToken struct {
	// OwnerID identifies the enrolled identity the token was issued for.
	OwnerID string

	// Nonce uniquely identifies this token so the gate can enforce
	// single use across a session.
	Nonce uuid.UUID

	// IssuedAt is the time of successful speaker verification.
	IssuedAt time.Time

	// TTL is how long after IssuedAt the token remains valid.
	TTL time.Duration
}

// Expired reports whether the token is past its validity window at now.
func (t VerificationToken) Expired(now time.Time) bool {
	return now.After(t.IssuedAt.Add(t.TTL))
}

// VerifiedUtterance is the unit of trust for the remainder of the pipeline.
// It is created only after speaker verification succeeds and carries the
// audio segment plus the token required for any privileged tool dispatch.
type VerifiedUtterance struct {
	// ID uniquely identifies this utterance for logging and metrics.
	ID uuid.UUID

	// OwnerID is the verified speaker identity.
	OwnerID string

	// Audio is the captured command segment that passed verification.
	Audio audio.Segment

	// WakeToVerifyLatency is the time from wake detection to successful
	// verification.
	WakeToVerifyLatency time.Duration

	// Token authorises privileged tool dispatch for this utterance.
	Token VerificationToken
}

// Transcript is the text output of the ASR collaborator for one utterance.
type Transcript struct {
	// Text is the recognised utterance text. May be empty when the ASR
	// could not make out any speech.
	Text string

	// Confidence is the ASR's own confidence in Text, in [0, 1].
	Confidence float64
}

// ToolSchemaRef describes a tool to the LLM without instantiating it.
// Only the gate may turn a reference into a live tool, and only after
// token validation.
type ToolSchemaRef struct {
	// Name is the tool's registry name.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input, as a
	// plain map ready for inclusion in an LLM payload.
	Parameters map[string]any

	// RequiresVerification is true for privileged tools. The gate refuses
	// dispatch of such tools without a valid token regardless of what the
	// routing layer attached.
	RequiresVerification bool
}

// RoutingDecision is the router's verdict for one transcript: which model
// tier handles it, which tool schemas are offered, and whether the caller
// must ask a clarifying question before any dispatch.
type RoutingDecision struct {
	// Intent is the classified intent label (e.g. "email", "chat").
	Intent string

	// ComplexityScore is the classifier's complexity estimate in [0, 1].
	ComplexityScore float64

	// ModelTier is the selected LLM capability class.
	ModelTier ModelTier

	// ToolSchemas lists the tool schemas relevant to Intent. Empty when
	// ClarificationNeeded is true.
	ToolSchemas []ToolSchemaRef

	// ClarificationNeeded is true when classifier confidence was too low
	// to act; the caller must prompt the owner before any tool dispatch.
	ClarificationNeeded bool
}
