package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultKeyEnv is the environment variable consulted for the voiceprint
// key when owner.key_env is not set.
const DefaultKeyEnv = "VOICEGATE_VOICEPRINT_KEY"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"openai", "mock"},
	"llm": {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Owner
	if cfg.Owner.ID == "" {
		errs = append(errs, errors.New("owner.id is required"))
	}
	if cfg.Owner.VerifyThreshold <= 0 || cfg.Owner.VerifyThreshold > 1 {
		errs = append(errs, fmt.Errorf("owner.verify_threshold %.3f is out of range (0, 1]; it is required and has no default", cfg.Owner.VerifyThreshold))
	}
	if cfg.Owner.KeyEnv == "" {
		cfg.Owner.KeyEnv = DefaultKeyEnv
	}
	if cfg.Owner.VoiceprintPath == "" {
		errs = append(errs, errors.New("owner.voiceprint_path is required"))
	}

	// Listener
	if cfg.Listener.WakeThreshold <= 0 || cfg.Listener.WakeThreshold > 1 {
		errs = append(errs, fmt.Errorf("listener.wake_threshold %.3f is out of range (0, 1]", cfg.Listener.WakeThreshold))
	}
	if cfg.Listener.WakePhrase == "" {
		errs = append(errs, errors.New("listener.wake_phrase is required"))
	}
	if cfg.Listener.MinSpeech <= 0 {
		errs = append(errs, errors.New("listener.min_speech is required"))
	}
	if cfg.Listener.MaxSilence <= 0 {
		errs = append(errs, errors.New("listener.max_silence is required"))
	}
	if cfg.Listener.TokenTTL <= 0 {
		errs = append(errs, errors.New("listener.token_ttl is required"))
	}
	if cfg.Listener.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("listener.energy_threshold %.4f must not be negative", cfg.Listener.EnergyThreshold))
	}

	// Routing
	if c := cfg.Routing.ComplexityCutoff; c != 0 && (c <= 0 || c >= 1) {
		errs = append(errs, fmt.Errorf("routing.complexity_cutoff %.3f is out of range (0, 1)", c))
	}
	if c := cfg.Routing.ConfidenceThreshold; c != 0 && (c <= 0 || c >= 1) {
		errs = append(errs, fmt.Errorf("routing.confidence_threshold %.3f is out of range (0, 1)", c))
	}
	if cfg.Routing.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("routing.history_size %d must not be negative", cfg.Routing.HistorySize))
	}

	// Providers
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLMLight.Name)
	validateProviderName("llm", cfg.Providers.LLMHeavy.Name)

	if cfg.Providers.LLMLight.Name == "" || cfg.Providers.LLMHeavy.Name == "" {
		slog.Warn("both LLM tiers must be configured for routed completions; requests to a missing tier will fail")
	}
	if cfg.Providers.ASR.Name == "" && cfg.Listener.ChallengePhrase != "" {
		errs = append(errs, errors.New("listener.challenge_phrase requires providers.asr"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
