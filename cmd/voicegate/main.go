// Command voicegate is the main entry point for the voicegate gatekeeping
// server. It also carries the one-shot enrollment mode that seals an owner
// recording into the encrypted voiceprint artifact.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voicegate/internal/app"
	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/internal/enroll"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/internal/voiceprint"
	"github.com/MrWong99/voicegate/pkg/provider/asr"
	asrmock "github.com/MrWong99/voicegate/pkg/provider/asr/mock"
	asropenai "github.com/MrWong99/voicegate/pkg/provider/asr/openai"
	"github.com/MrWong99/voicegate/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicegate/pkg/provider/llm/mock"
	llmopenai "github.com/MrWong99/voicegate/pkg/provider/llm/openai"
	"github.com/MrWong99/voicegate/pkg/provider/speaker/hashprint"
	"github.com/MrWong99/voicegate/pkg/provider/wake/phrase"
	"github.com/MrWong99/voicegate/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	enrollPath := flag.String("enroll", "", "enroll the owner from a raw 16-bit LE mono PCM recording and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicegate: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicegate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Enrollment mode ───────────────────────────────────────────────────────
	if *enrollPath != "" {
		return runEnroll(ctx, cfg, *enrollPath)
	}

	slog.Info("voicegate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sc, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sc); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("gatekeeping pipeline ready", "wake_phrase", cfg.Listener.WakePhrase)

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// runEnroll seals an owner recording into the configured voiceprint path.
func runEnroll(ctx context.Context, cfg *config.Config, recordingPath string) int {
	key := []byte(os.Getenv(cfg.Owner.KeyEnv))
	if len(key) == 0 {
		fmt.Fprintf(os.Stderr, "voicegate: enrollment needs the encryption key in %s\n", cfg.Owner.KeyEnv)
		return 1
	}

	store := voiceprint.NewStore(cfg.Owner.VoiceprintPath)
	enroller := enroll.New(hashprint.New(), store, 16000)

	artifact, err := enroller.RunFile(ctx, cfg.Owner.ID, recordingPath, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicegate: enrollment failed: %v\n", err)
		return 1
	}

	fmt.Printf("enrolled %q into %s (key fingerprint %s)\n",
		artifact.OwnerID, cfg.Owner.VoiceprintPath, artifact.KeyFingerprint[:12])
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the capability providers named in cfg and
// returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{
		LLM: map[types.ModelTier]llm.Provider{},
	}

	wakeDetector, err := phrase.New(cfg.Listener.WakePhrase)
	if err != nil {
		return nil, fmt.Errorf("create wake detector: %w", err)
	}
	ps.Wake = wakeDetector
	ps.Speaker = hashprint.New()

	if entry := cfg.Providers.ASR; entry.Name != "" {
		p, err := buildASR(entry)
		if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", entry.Name, err)
		}
		ps.ASR = p
		slog.Info("provider created", "kind", "asr", "name", entry.Name)
	}

	for tier, entry := range map[types.ModelTier]config.ProviderEntry{
		types.TierLight: cfg.Providers.LLMLight,
		types.TierHeavy: cfg.Providers.LLMHeavy,
	} {
		if entry.Name == "" {
			continue
		}
		p, err := buildLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q for tier %s: %w", entry.Name, tier, err)
		}
		ps.LLM[tier] = p
		slog.Info("provider created", "kind", "llm", "tier", string(tier), "name", entry.Name, "model", entry.Model)
	}

	return ps, nil
}

func buildASR(entry config.ProviderEntry) (asr.Transcriber, error) {
	switch entry.Name {
	case "openai":
		var opts []asropenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithBaseURL(entry.BaseURL))
		}
		return asropenai.New(entry.APIKey, entry.Model, opts...)
	case "mock":
		return &asrmock.Transcriber{}, nil
	default:
		return nil, fmt.Errorf("unknown asr provider %q", entry.Name)
	}
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	case "mock":
		return &llmmock.Provider{Model: entry.Model}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", entry.Name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
