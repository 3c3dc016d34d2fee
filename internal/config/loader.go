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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native"},
	"tts":        {"coqui", "elevenlabs"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

	// Session / VAD ranges
	if cfg.Session.SafetyBufferMS < 0 {
		errs = append(errs, fmt.Errorf("session.safety_buffer_ms %d must not be negative", cfg.Session.SafetyBufferMS))
	}
	if cfg.Session.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.input_sample_rate %d must not be negative", cfg.Session.InputSampleRate))
	}
	if cfg.Session.InputChannels < 0 || cfg.Session.InputChannels > 2 {
		errs = append(errs, fmt.Errorf("session.input_channels %d must be 0 (match reference), 1, or 2", cfg.Session.InputChannels))
	}
	if cfg.VAD.Sensitivity < 0 || cfg.VAD.Sensitivity > 3 {
		errs = append(errs, fmt.Errorf("vad.sensitivity %d is out of range [0, 3]", cfg.VAD.Sensitivity))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Required stages
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}

	// Per-provider required fields
	for _, p := range []struct {
		prefix string
		entry  ProviderEntry
	}{
		{"providers.stt", cfg.Providers.STT},
		{"providers.stt_fallback", cfg.Providers.STTFallback},
	} {
		switch p.entry.Name {
		case "whisper":
			if p.entry.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for the whisper server provider", p.prefix))
			}
		case "whisper-native":
			if p.entry.Model == "" {
				errs = append(errs, fmt.Errorf("%s.model (GGML model path) is required for the whisper-native provider", p.prefix))
			}
		}
	}
	for _, p := range []struct {
		prefix string
		entry  ProviderEntry
	}{
		{"providers.tts", cfg.Providers.TTS},
		{"providers.tts_fallback", cfg.Providers.TTSFallback},
	} {
		switch p.entry.Name {
		case "coqui":
			if p.entry.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for the coqui provider", p.prefix))
			}
		case "elevenlabs":
			if p.entry.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s.api_key is required for the elevenlabs provider", p.prefix))
			}
		}
	}
	if cfg.Providers.Embeddings.Name == "openai" && cfg.Providers.Embeddings.APIKey == "" {
		errs = append(errs, errors.New("providers.embeddings.api_key is required for the openai provider"))
	}

	// Pipeline
	if cfg.Pipeline.Temperature < 0 || cfg.Pipeline.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", cfg.Pipeline.Temperature))
	}
	if cfg.Pipeline.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", cfg.Pipeline.MaxTokens))
	}

	// Commands
	if cfg.Commands.Threshold != 0 {
		if cfg.Commands.Threshold <= 0 || cfg.Commands.Threshold > 1 {
			errs = append(errs, fmt.Errorf("commands.threshold %.3f is out of range (0, 1]", cfg.Commands.Threshold))
		}
	}

	// Memory ↔ embeddings coherence
	if cfg.Memory.PostgresDSN != "" {
		if cfg.Providers.Embeddings.Name == "" {
			slog.Warn("memory.postgres_dsn is set but providers.embeddings is not; exchanges will be stored without vectors and recall will be unavailable")
		}
		if cfg.Memory.EmbeddingDimensions <= 0 && cfg.Providers.Embeddings.Name != "" {
			slog.Warn("memory.embedding_dimensions is not set; defaulting to the embedding model's native dimension")
		}
	} else {
		slog.Warn("memory.postgres_dsn is empty; conversation memory will not persist across restarts")
	}
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", cfg.Memory.EmbeddingDimensions))
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
