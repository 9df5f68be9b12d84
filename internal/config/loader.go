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

// Defaults applied by [LoadFromReader] before validation. They reproduce a
// usable out-of-the-box companion against a local Ollama server.
const (
	DefaultName          = "Sprout"
	DefaultTeachMarker   = "teach:"
	DefaultBaseAward     = 1
	DefaultBonusAward    = 5
	DefaultBaseThreshold = 100
	DefaultTokenBudget   = 4096
	DefaultStoragePath   = "sprout_state.json"
)

// ValidEngineNames lists known engine names. Used by [Validate] to warn about
// unrecognised names without rejecting third-party registrations.
var ValidEngineNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile", "openai-sdk",
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the package defaults.
// A deliberately empty teach_markers list ([]) disables the bonus and is
// left alone; only a missing (nil) list gets the default marker.
func applyDefaults(cfg *Config) {
	if cfg.Companion.Name == "" {
		cfg.Companion.Name = DefaultName
	}
	if cfg.Companion.Persona == "" {
		cfg.Companion.Persona = fmt.Sprintf(
			"You are %s, a curious young AI companion raised by your keeper. "+
				"You grow by being taught. Answer in character: warm, eager, and brief.",
			cfg.Companion.Name)
	}
	if cfg.Companion.TeachMarkers == nil {
		cfg.Companion.TeachMarkers = []string{DefaultTeachMarker}
	}
	if cfg.Companion.BaseAward == 0 {
		cfg.Companion.BaseAward = DefaultBaseAward
	}
	if cfg.Companion.BonusAward == 0 {
		cfg.Companion.BonusAward = DefaultBonusAward
	}
	if cfg.Companion.BaseThreshold == 0 {
		cfg.Companion.BaseThreshold = DefaultBaseThreshold
	}
	if cfg.Engine.TokenBudget == 0 {
		cfg.Engine.TokenBudget = DefaultTokenBudget
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageFile
	}
	if cfg.Storage.Backend == StorageFile && cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; any error here is
// fatal at startup, before the first turn is processed.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Companion
	if cfg.Companion.BaseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("companion.base_threshold must be > 0, got %d", cfg.Companion.BaseThreshold))
	}
	if cfg.Companion.BaseAward < 0 {
		errs = append(errs, fmt.Errorf("companion.base_award must be >= 0, got %d", cfg.Companion.BaseAward))
	}
	if cfg.Companion.BonusAward < 0 {
		errs = append(errs, fmt.Errorf("companion.bonus_award must be >= 0, got %d", cfg.Companion.BonusAward))
	}
	if len(cfg.Companion.TeachMarkers) == 0 {
		slog.Warn("companion.teach_markers is empty; the teaching bonus will never apply")
	}

	// Engine
	if cfg.Engine.Name == "" {
		errs = append(errs, fmt.Errorf("engine.name is required"))
	}
	validateEngineName(cfg.Engine.Name)
	for _, fb := range cfg.Engine.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("engine.fallbacks entries require a name"))
			continue
		}
		validateEngineName(fb.Name)
	}
	if cfg.Engine.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("engine.token_budget must be > 0, got %d", cfg.Engine.TokenBudget))
	}
	if cfg.Engine.MaxReplyTokens < 0 {
		errs = append(errs, fmt.Errorf("engine.max_reply_tokens must be >= 0, got %d", cfg.Engine.MaxReplyTokens))
	}
	if cfg.Engine.Temperature < 0 || cfg.Engine.Temperature > 2 {
		errs = append(errs, fmt.Errorf("engine.temperature %.2f is out of range [0, 2]", cfg.Engine.Temperature))
	}

	// Storage
	if !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StorageFile && cfg.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required for the file backend"))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("storage.postgres_dsn is required for the postgres backend"))
	}

	return errors.Join(errs...)
}

// validateEngineName logs a warning if name is not in [ValidEngineNames].
func validateEngineName(name string) {
	if name == "" || slices.Contains(ValidEngineNames, name) {
		return
	}
	slog.Warn("unknown engine name — may be a typo or a third-party registration",
		"name", name,
		"known", ValidEngineNames,
	)
}
