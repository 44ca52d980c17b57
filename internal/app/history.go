package app

import (
	"sync"
	"time"

	"github.com/MrWong99/voicegate/pkg/provider/llm"
)

// History maintains the rolling conversation context included in routed
// LLM payloads.
//
// The buffer enforces both a maximum turn count and a maximum age. Turns
// that exceed either limit are evicted automatically on every [Add] call.
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	turns   []Turn
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// Turn is a single conversation entry stored in the [History].
type Turn struct {
	// Role is the speaker role ("user" or "assistant").
	Role string

	// Content is the turn text.
	Content string

	// Timestamp records when the turn occurred.
	Timestamp time.Time
}

// NewHistory creates a history that retains at most maxSize turns and
// evicts turns older than maxAge. A maxAge of zero disables age eviction.
func NewHistory(maxSize int, maxAge time.Duration) *History {
	return &History{
		turns:   make([]Turn, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends a turn and evicts entries that exceed the configured maximum
// size or age.
func (h *History) Add(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, Turn{Role: role, Content: content, Timestamp: h.now()})
	h.evict()
}

// Messages returns the retained turns as LLM messages in chronological
// order.
func (h *History) Messages() []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]llm.Message, 0, len(h.turns))
	cutoff := h.cutoff()
	for _, t := range h.turns {
		if !cutoff.IsZero() && t.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

func (h *History) cutoff() time.Time {
	if h.maxAge <= 0 {
		return time.Time{}
	}
	return h.now().Add(-h.maxAge)
}

// evict removes turns that are too old or exceed maxSize.
// Must be called with h.mu held.
//
// Surviving turns are copied to a fresh backing array so evicted entries
// do not pin memory for the lifetime of the session.
func (h *History) evict() {
	cutoff := h.cutoff()

	start := 0
	if !cutoff.IsZero() {
		for start < len(h.turns) && h.turns[start].Timestamp.Before(cutoff) {
			start++
		}
	}

	keep := h.turns[start:]
	if h.maxSize > 0 && len(keep) > h.maxSize {
		keep = keep[len(keep)-h.maxSize:]
	}

	if start > 0 || len(keep) < len(h.turns) {
		fresh := make([]Turn, len(keep), cap(h.turns))
		copy(fresh, keep)
		h.turns = fresh
	}
}
