// Package config provides the configuration schema and loader for the
// voicegate server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the voicegate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML configs can use human-readable
// values like "800ms" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voicegate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Owner     OwnerConfig     `yaml:"owner"`
	Listener  ListenerConfig  `yaml:"listener"`
	Routing   RoutingConfig   `yaml:"routing"`
	Providers ProvidersConfig `yaml:"providers"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server (health + metrics)
	// listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// OwnerConfig describes the enrolled owner and the voiceprint location.
type OwnerConfig struct {
	// ID is the enrolled owner identity. Required.
	ID string `yaml:"id"`

	// VoiceprintPath is where the encrypted voiceprint artifact lives.
	VoiceprintPath string `yaml:"voiceprint_path"`

	// KeyEnv names the environment variable holding the voiceprint key
	// material. The key itself never appears in config or logs.
	// Default: "VOICEGATE_VOICEPRINT_KEY".
	KeyEnv string `yaml:"key_env"`

	// VerifyThreshold is the minimum cosine similarity for acceptance,
	// in (0, 1]. Required — there is no default; operators choose the
	// security/usability trade-off explicitly.
	VerifyThreshold float64 `yaml:"verify_threshold"`
}

// ListenerConfig holds wake, guardrail, and cooldown parameters.
type ListenerConfig struct {
	// WakePhrase is the phrase the fallback detector listens for.
	WakePhrase string `yaml:"wake_phrase"`

	// WakeThreshold is the minimum wake confidence, in (0, 1].
	WakeThreshold float64 `yaml:"wake_threshold"`

	// MinSpeech is the speech duration required before verification.
	MinSpeech Duration `yaml:"min_speech"`

	// MaxSilence is the silence budget before minimum speech is met.
	MaxSilence Duration `yaml:"max_silence"`

	// EndSilence is the trailing silence that ends a capture.
	EndSilence Duration `yaml:"end_silence"`

	// MaxCommand caps the total captured command length.
	MaxCommand Duration `yaml:"max_command"`

	// EnergyThreshold classifies frames below it as silence.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// ChallengePhrase, when set, must be heard in the capture before
	// verification (replay resistance).
	ChallengePhrase string `yaml:"challenge_phrase"`

	// VerifyTimeout bounds external collaborator calls during
	// verification.
	VerifyTimeout Duration `yaml:"verify_timeout"`

	// TokenTTL is the validity window of minted verification tokens.
	TokenTTL Duration `yaml:"token_ttl"`

	// Cooldown is the base cooldown after a verification rejection.
	Cooldown Duration `yaml:"cooldown"`

	// CooldownMax caps escalated cooldowns.
	CooldownMax Duration `yaml:"cooldown_max"`

	// RejectionLimit is the rejection count after which cooldowns
	// escalate.
	RejectionLimit int `yaml:"rejection_limit"`

	// RejectionWindow is the sliding window for RejectionLimit.
	RejectionWindow Duration `yaml:"rejection_window"`

	// BufferSize is the frame buffer capacity.
	BufferSize int `yaml:"buffer_size"`
}

// RoutingConfig holds intent routing and conversation history parameters.
type RoutingConfig struct {
	// ComplexityCutoff splits model tiers, in (0, 1).
	ComplexityCutoff float64 `yaml:"complexity_cutoff"`

	// ConfidenceThreshold is the minimum classifier confidence to act,
	// in (0, 1).
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// SystemPrompt heads every LLM payload. Empty uses the built-in
	// default.
	SystemPrompt string `yaml:"system_prompt"`

	// HistorySize bounds the rolling conversation history.
	HistorySize int `yaml:"history_size"`

	// HistoryMaxAge evicts turns older than this from the history.
	HistoryMaxAge Duration `yaml:"history_max_age"`
}

// ProvidersConfig declares the external capability backends.
type ProvidersConfig struct {
	// ASR is the speech-to-text backend used for transcription and the
	// challenge pre-check.
	ASR ProviderEntry `yaml:"asr"`

	// LLMLight answers requests routed to the low-cost tier.
	LLMLight ProviderEntry `yaml:"llm_light"`

	// LLMHeavy answers requests routed to the high-capability tier.
	LLMHeavy ProviderEntry `yaml:"llm_heavy"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "mock").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`
}

// ToolsConfig selects backends for the built-in tools.
type ToolsConfig struct {
	// EmailProvider names the outbound email backend. Empty means
	// dry-run.
	EmailProvider string `yaml:"email_provider"`

	// EmailDryRun forces dry-run even with a real provider configured.
	EmailDryRun bool `yaml:"email_dry_run"`

	// CallProvider names the telephony backend. Empty means dry-run.
	CallProvider string `yaml:"call_provider"`

	// BlogPublishDir is where published posts are written.
	BlogPublishDir string `yaml:"blog_publish_dir"`
}
