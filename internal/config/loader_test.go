package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicegate/internal/config"
)

// validYAML is a minimal complete configuration used as the base for the
// loader tests.
const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
owner:
  id: owner-1
  voiceprint_path: /var/lib/voicegate/voiceprint.json
  verify_threshold: 0.75
listener:
  wake_phrase: hey gate
  wake_threshold: 0.8
  min_speech: 300ms
  max_silence: 800ms
  token_ttl: 30s
providers:
  asr:
    name: openai
    model: whisper-1
  llm_light:
    name: openai
    model: gpt-4o-mini
  llm_heavy:
    name: openai
    model: gpt-4o
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Owner.ID != "owner-1" {
		t.Errorf("Owner.ID = %q, want owner-1", cfg.Owner.ID)
	}
	if cfg.Owner.KeyEnv != config.DefaultKeyEnv {
		t.Errorf("Owner.KeyEnv = %q, want default %q", cfg.Owner.KeyEnv, config.DefaultKeyEnv)
	}
	if got := cfg.Listener.MinSpeech.Std(); got != 300*time.Millisecond {
		t.Errorf("Listener.MinSpeech = %v, want 300ms", got)
	}
	if got := cfg.Listener.TokenTTL.Std(); got != 30*time.Second {
		t.Errorf("Listener.TokenTTL = %v, want 30s", got)
	}
}

func TestValidate_VerifyThresholdRequired(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "verify_threshold: 0.75", "verify_threshold: 0", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing verify threshold, got nil")
	}
	if !strings.Contains(err.Error(), "verify_threshold") {
		t.Errorf("error should mention verify_threshold, got: %v", err)
	}
}

func TestValidate_OwnerIDRequired(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "id: owner-1", "id: \"\"", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing owner id, got nil")
	}
	if !strings.Contains(err.Error(), "owner.id") {
		t.Errorf("error should mention owner.id, got: %v", err)
	}
}

func TestValidate_ChallengeRequiresASR(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "wake_phrase: hey gate",
		"wake_phrase: hey gate\n  challenge_phrase: ferrous aquamarine", 1)
	yaml = strings.Replace(yaml, "name: openai\n    model: whisper-1", "name: \"\"", 1)

	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for challenge phrase without ASR provider, got nil")
	}
	if !strings.Contains(err.Error(), "challenge_phrase") {
		t.Errorf("error should mention challenge_phrase, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "log_level: info", "log_level: loud", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := validYAML + "\nunexpected_section:\n  key: value\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "min_speech: 300ms", "min_speech: soon", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}
