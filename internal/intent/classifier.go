// Package intent classifies transcripts into coarse intent labels and a
// graded complexity score.
//
// Classification is a pure function over the transcript text: no I/O, no
// model calls, no state. The same input always yields the same output,
// which keeps routing decisions reproducible and cheap enough to run on
// every utterance before any LLM is involved.
package intent

import (
	"strings"
	"unicode"
)

// Label is a coarse intent category.
type Label string

const (
	// LabelChat is the fallback: conversational input with no actionable
	// keyword.
	LabelChat Label = "chat"

	// LabelEmail covers reading, drafting, and sending mail.
	LabelEmail Label = "email"

	// LabelCall covers placing phone calls.
	LabelCall Label = "call"

	// LabelBlog covers drafting and publishing posts.
	LabelBlog Label = "blog"

	// LabelToolNeeded marks explicit requests to run a tool or command.
	LabelToolNeeded Label = "tool-needed"

	// LabelUnknown marks empty or unintelligible input.
	LabelUnknown Label = "unknown"
)

// Classification is the outcome of classifying one transcript.
type Classification struct {
	// Label is the detected intent category.
	Label Label

	// ComplexityScore grades the request in [0, 1]: longer transcripts and
	// heavy analysis verbs push it up. The router compares it against its
	// configured cutoff to pick a model tier.
	ComplexityScore float64

	// Confidence grades how sure the classifier is about Label, in [0, 1].
	// Keyword-matched labels score high; the chat fallback is medium;
	// unintelligible input is low.
	Confidence float64
}

// Keyword tables, checked in order — the first matching label wins.
// Matching is case-insensitive substring containment, so "emails" and
// "dialing" match too.
var labelKeywords = []struct {
	label    Label
	keywords []string
}{
	{LabelEmail, []string{"email", "inbox", "draft"}},
	{LabelCall, []string{"call", "dial", "ring"}},
	{LabelBlog, []string{"blog", "publish", "post"}},
	{LabelToolNeeded, []string{"run", "execute", "tool"}},
}

// heavyVerbs are analysis verbs that mark a request as complex regardless
// of its length.
var heavyVerbs = []string{"summarize", "summarise", "analyze", "analyse", "compose"}

// complexityLengthCap is the word count at which length alone contributes
// its full weight to the complexity score.
const complexityLengthCap = 40

const (
	confidenceKeyword        = 0.9
	confidenceChatFallback   = 0.6
	confidenceVagueChat      = 0.3
	confidenceUnintelligible = 0.2
)

// vagueLengthMax is the token count at or below which a keyword-less
// transcript is considered too vague to act on. "Do something" names no
// capability; scoring it below the router's confidence threshold makes the
// pipeline ask for clarification instead of guessing.
const vagueLengthMax = 2

// Classify labels the transcript and grades its complexity. Pure and
// deterministic.
func Classify(transcript string) Classification {
	lowered := strings.ToLower(strings.TrimSpace(transcript))
	tokens := strings.Fields(lowered)

	if len(tokens) == 0 {
		return Classification{Label: LabelUnknown}
	}
	if !containsLetter(lowered) {
		return Classification{
			Label:           LabelUnknown,
			ComplexityScore: complexity(lowered, len(tokens)),
			Confidence:      confidenceUnintelligible,
		}
	}

	label := LabelChat
	confidence := confidenceChatFallback
	for _, entry := range labelKeywords {
		if containsAny(lowered, entry.keywords) {
			label = entry.label
			confidence = confidenceKeyword
			break
		}
	}
	if label == LabelChat && len(tokens) <= vagueLengthMax {
		confidence = confidenceVagueChat
	}

	return Classification{
		Label:           label,
		ComplexityScore: complexity(lowered, len(tokens)),
		Confidence:      confidence,
	}
}

// complexity grades the request in [0, 1]: up to 0.5 from transcript
// length, plus 0.5 when a heavy analysis verb appears.
func complexity(lowered string, tokenCount int) float64 {
	lengthScore := float64(tokenCount) / complexityLengthCap
	if lengthScore > 1 {
		lengthScore = 1
	}
	score := 0.5 * lengthScore
	if containsAny(lowered, heavyVerbs) {
		score += 0.5
	}
	if score > 1 {
		score = 1
	}
	return score
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
