package hashprint_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/provider/speaker"
	"github.com/MrWong99/voicegate/pkg/provider/speaker/hashprint"
)

func segment(samples ...int16) audio.Segment {
	return audio.Segment{
		SampleRate: 16000,
		Frames:     []audio.Frame{{Samples: samples, SampleRate: 16000}},
	}
}

// TestExtractDeterministic verifies identical audio yields an identical
// embedding, the property the verification round trip depends on.
func TestExtractDeterministic(t *testing.T) {
	t.Parallel()

	e := hashprint.New()
	seg := segment(100, -200, 300, -400)

	first, err := e.Extract(context.Background(), seg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(first) != hashprint.DefaultDimensions {
		t.Fatalf("len(embedding) = %d, want %d", len(first), hashprint.DefaultDimensions)
	}

	second, err := e.Extract(context.Background(), seg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("embedding[%d] differs between runs: %v vs %v", i, first[i], second[i])
		}
	}
}

// TestExtractDistinguishesAudio verifies different audio yields a
// different embedding.
func TestExtractDistinguishesAudio(t *testing.T) {
	t.Parallel()

	e := hashprint.New()
	a, err := e.Extract(context.Background(), segment(100, 200, 300))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	b, err := e.Extract(context.Background(), segment(100, 200, 301))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct audio produced identical embeddings")
	}
}

func TestExtractEmptySegment(t *testing.T) {
	t.Parallel()

	_, err := hashprint.New().Extract(context.Background(), audio.Segment{SampleRate: 16000})
	if !errors.Is(err, speaker.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
}

func TestExtractCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := hashprint.New().Extract(ctx, segment(1, 2, 3)); err == nil {
		t.Error("Extract ignored a cancelled context")
	}
}
