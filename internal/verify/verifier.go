// Package verify implements threshold-based speaker verification against
// the enrolled voiceprint.
//
// The verifier is a pure comparison: given a live embedding and the
// enrolled one it computes cosine similarity and accepts when the score
// meets the configured threshold. It performs no I/O, holds no mutable
// state, and is fully deterministic — identical embedding pairs always
// yield the identical score.
package verify

import (
	"fmt"
	"math"
)

// Result is the outcome of one verification attempt. It is ephemeral:
// produced per utterance and never persisted.
type Result struct {
	// Verified is true when Confidence met the verifier's threshold.
	Verified bool

	// Confidence is the cosine similarity between live and enrolled
	// embeddings, in [-1, 1].
	Confidence float64

	// OwnerID is the enrolled identity the comparison was made against.
	OwnerID string
}

// Verifier compares live embeddings against one enrolled embedding.
// Immutable after construction and safe for concurrent use.
type Verifier struct {
	ownerID   string
	enrolled  []float32
	threshold float64
}

// New creates a Verifier for the enrolled embedding.
//
// The threshold is a required, explicit value in (0, 1]: there is no
// default, so operators always make the security/usability trade-off
// deliberately. Returns an error for an out-of-range threshold or an
// empty embedding.
func New(ownerID string, enrolled []float32, threshold float64) (*Verifier, error) {
	if len(enrolled) == 0 {
		return nil, fmt.Errorf("verify: enrolled embedding must not be empty")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("verify: threshold %.3f out of range (0, 1]", threshold)
	}
	emb := make([]float32, len(enrolled))
	copy(emb, enrolled)
	return &Verifier{ownerID: ownerID, enrolled: emb, threshold: threshold}, nil
}

// OwnerID returns the enrolled identity this verifier accepts.
func (v *Verifier) OwnerID() string { return v.ownerID }

// Threshold returns the configured acceptance threshold.
func (v *Verifier) Threshold() float64 { return v.threshold }

// Verify scores live against the enrolled embedding. Returns an error when
// the vector lengths differ — that indicates mismatched extractor models,
// not an impostor.
func (v *Verifier) Verify(live []float32) (Result, error) {
	if len(live) != len(v.enrolled) {
		return Result{}, fmt.Errorf("verify: embedding length %d does not match enrolled length %d",
			len(live), len(v.enrolled))
	}

	score := CosineSimilarity(live, v.enrolled)
	return Result{
		Verified:   score >= v.threshold,
		Confidence: score,
		OwnerID:    v.ownerID,
	}, nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Returns 0 when either vector has zero magnitude. Both slices must have
// the same length; callers are expected to have checked.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
