// Command sprout is the main entry point for the Sprout companion.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/oakmund/sprout/internal/app"
	"github.com/oakmund/sprout/internal/config"
	"github.com/oakmund/sprout/internal/observe"
	"github.com/oakmund/sprout/internal/resilience"
	"github.com/oakmund/sprout/pkg/engine"
	"github.com/oakmund/sprout/pkg/engine/anyllm"
	openaiengine "github.com/oakmund/sprout/pkg/engine/openai"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sprout: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sprout: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sprout starting",
		"config", *configPath,
		"companion", cfg.Companion.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	eng, err := buildEngine(cfg, reg)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, eng)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("companion ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires all built-in engine factories into reg. Each
// factory receives a config.EngineEntry and constructs the backend from the
// real implementation packages.
func registerBuiltinEngines(reg *config.Registry) {
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp and
	// llamafile all share the same pattern: optional APIKey + optional BaseURL.
	for _, backendName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterEngine(backendName, func(entry config.EngineEntry) (engine.Engine, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backendName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterEngine("ollama", func(entry config.EngineEntry) (engine.Engine, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai-sdk talks to the OpenAI API through the official client rather
	// than the any-llm bridge, which exposes org and timeout knobs.
	reg.RegisterEngine("openai-sdk", func(entry config.EngineEntry) (engine.Engine, error) {
		var opts []openaiengine.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaiengine.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openaiengine.WithOrganization(org))
		}
		return openaiengine.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildEngine instantiates the primary engine and, when fallbacks are
// configured, wraps everything in a breaker-guarded fallback chain.
func buildEngine(cfg *config.Config, reg *config.Registry) (engine.Engine, error) {
	primary, err := reg.CreateEngine(cfg.Engine.EngineEntry)
	if err != nil {
		return nil, fmt.Errorf("create engine %q: %w", cfg.Engine.Name, err)
	}
	slog.Info("engine created", "name", cfg.Engine.Name, "model", cfg.Engine.Model)

	if len(cfg.Engine.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewChain(primary, resilience.BreakerConfig{})
	for _, entry := range cfg.Engine.Fallbacks {
		fb, err := reg.CreateEngine(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback engine %q: %w", entry.Name, err)
		}
		chain.AddFallback(fb)
		slog.Info("fallback engine created", "name", entry.Name, "model", entry.Model)
	}
	return chain, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Sprout — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Companion", cfg.Companion.Name)
	printRow("Engine", engineLabel(cfg.Engine.EngineEntry))
	for _, fb := range cfg.Engine.Fallbacks {
		printRow("Fallback", engineLabel(fb))
	}
	printRow("Storage", string(cfg.Storage.Backend))
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics addr", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func engineLabel(entry config.EngineEntry) string {
	if entry.Model == "" {
		return entry.Name
	}
	return entry.Name + " / " + entry.Model
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
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

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from an engine Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
