package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"theaterd/internal/common/fsutil"
	"theaterd/internal/generator"
	"theaterd/internal/settings"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr          string        `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel      string        `json:"log_level" yaml:"log_level" toml:"log_level" validate:"omitempty,oneof=debug info warn error off"`
	ChatPath      string        `json:"chat_path" yaml:"chat_path" toml:"chat_path"`
	SettingsPath  string        `json:"settings_path" yaml:"settings_path" toml:"settings_path"`
	SettleDelayMs *int          `json:"settle_delay_ms" yaml:"settle_delay_ms" toml:"settle_delay_ms" validate:"omitnil,gte=0"`
	MaxBodyBytes  int64         `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" validate:"gte=0"`
	CORS          CORSConfig    `json:"cors" yaml:"cors" toml:"cors"`
	Theater       TheaterConfig `json:"theater" yaml:"theater" toml:"theater"`
	Backend       BackendConfig `json:"backend" yaml:"backend" toml:"backend"`
}

// CORSConfig enables cross-origin access for browser-hosted chat frontends.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// TheaterConfig seeds the initial theater settings.
type TheaterConfig struct {
	Enabled      *bool  `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxRetries   uint   `json:"max_retries" yaml:"max_retries" toml:"max_retries" validate:"lte=20"`
	RetryDelayMs *uint  `json:"retry_delay_ms" yaml:"retry_delay_ms" toml:"retry_delay_ms"`
	Prompt       string `json:"prompt" yaml:"prompt" toml:"prompt"`
	PromptFile   string `json:"prompt_file" yaml:"prompt_file" toml:"prompt_file"`
}

// BackendConfig selects the text-generation backend.
type BackendConfig struct {
	Kind             string  `json:"kind" yaml:"kind" toml:"kind" validate:"omitempty,oneof=openai gemini llama static"`
	BaseURL          string  `json:"base_url" yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	APIKey           string  `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model            string  `json:"model" yaml:"model" toml:"model"`
	MaxTokens        int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" validate:"gte=0"`
	Temperature      float32 `json:"temperature" yaml:"temperature" toml:"temperature" validate:"gte=0"`
	TopP             float32 `json:"top_p" yaml:"top_p" toml:"top_p" validate:"gte=0,lte=1"`
	RequestTimeoutMs int     `json:"request_timeout_ms" yaml:"request_timeout_ms" toml:"request_timeout_ms" validate:"gte=0"`
	ConnectTimeoutMs int     `json:"connect_timeout_ms" yaml:"connect_timeout_ms" toml:"connect_timeout_ms" validate:"gte=0"`
	ModelPath        string  `json:"model_path" yaml:"model_path" toml:"model_path"`
	ContextSize      int     `json:"context_size" yaml:"context_size" toml:"context_size" validate:"gte=0"`
	Threads          int     `json:"threads" yaml:"threads" toml:"threads" validate:"gte=0"`
	Text             string  `json:"text" yaml:"text" toml:"text"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr          = ":8080"
	DefaultSettleDelayMs = 800
	DefaultMaxBodyBytes  = 1 << 20
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SettleDelayMs == nil {
		d := DefaultSettleDelayMs
		c.SettleDelayMs = &d
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = generator.KindOpenAI
	}
}

// ApplyEnv overrides fields from THEATERD_* variables looked up via getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("THEATERD_ADDR", &c.Addr)
	str("THEATERD_LOG_LEVEL", &c.LogLevel)
	str("THEATERD_CHAT_PATH", &c.ChatPath)
	str("THEATERD_SETTINGS_PATH", &c.SettingsPath)
	str("THEATERD_BACKEND", &c.Backend.Kind)
	str("THEATERD_BACKEND_URL", &c.Backend.BaseURL)
	str("THEATERD_BACKEND_MODEL", &c.Backend.Model)
	str("THEATERD_API_KEY", &c.Backend.APIKey)
	if c.Backend.Kind == generator.KindGemini && c.Backend.APIKey == "" {
		str("GEMINI_API_KEY", &c.Backend.APIKey)
	}
	if v := strings.TrimSpace(getenv("THEATERD_MAX_RETRIES")); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("THEATERD_MAX_RETRIES: %w", err)
		}
		c.Theater.MaxRetries = uint(n)
	}
	if v := strings.TrimSpace(getenv("THEATERD_RETRY_DELAY_MS")); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("THEATERD_RETRY_DELAY_MS: %w", err)
		}
		d := uint(n)
		c.Theater.RetryDelayMs = &d
	}
	if v := strings.TrimSpace(getenv("THEATERD_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("THEATERD_ENABLED: %w", err)
		}
		c.Theater.Enabled = &b
	}
	return nil
}

// ExpandPaths resolves a leading '~' in every path-valued field.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.ChatPath, &c.SettingsPath, &c.Theater.PromptFile, &c.Backend.ModelPath} {
		v, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds and backend requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Backend.Kind {
	case generator.KindOpenAI:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("invalid config: backend.base_url is required for the openai backend")
		}
	case generator.KindGemini:
		if c.Backend.APIKey == "" || c.Backend.Model == "" {
			return fmt.Errorf("invalid config: backend.api_key and backend.model are required for the gemini backend")
		}
	case generator.KindLlama:
		if c.Backend.ModelPath == "" {
			return fmt.Errorf("invalid config: backend.model_path is required for the llama backend")
		}
	}
	return nil
}

// Settings builds the initial theater settings. A prompt_file takes
// precedence over an inline prompt; both fall back to the built-in prompt.
func (c Config) Settings() (settings.Settings, error) {
	s := settings.Defaults()
	if c.Theater.Enabled != nil {
		s.Enabled = *c.Theater.Enabled
	}
	if c.Theater.MaxRetries > 0 {
		s.MaxRetries = c.Theater.MaxRetries
	}
	if c.Theater.RetryDelayMs != nil {
		s.RetryDelayMs = *c.Theater.RetryDelayMs
	}
	if strings.TrimSpace(c.Theater.Prompt) != "" {
		s.Prompt = c.Theater.Prompt
	}
	if c.Theater.PromptFile != "" {
		b, err := os.ReadFile(c.Theater.PromptFile)
		if err != nil {
			return s, fmt.Errorf("read prompt file: %w", err)
		}
		if p := strings.TrimSpace(string(b)); p != "" {
			s.Prompt = p
		}
	}
	return s, nil
}

// SettleDelay returns the configured render-settle wait.
func (c Config) SettleDelay() time.Duration {
	if c.SettleDelayMs == nil {
		return DefaultSettleDelayMs * time.Millisecond
	}
	return time.Duration(*c.SettleDelayMs) * time.Millisecond
}

// Generator maps the backend section to a generator.Config.
func (c Config) Generator() generator.Config {
	b := c.Backend
	return generator.Config{
		Kind:           b.Kind,
		BaseURL:        b.BaseURL,
		APIKey:         b.APIKey,
		RequestTimeout: time.Duration(b.RequestTimeoutMs) * time.Millisecond,
		ConnectTimeout: time.Duration(b.ConnectTimeoutMs) * time.Millisecond,
		Model:          b.Model,
		MaxTokens:      b.MaxTokens,
		Temperature:    b.Temperature,
		TopP:           b.TopP,
		ModelPath:      b.ModelPath,
		ContextSize:    b.ContextSize,
		Threads:        b.Threads,
		Text:           b.Text,
	}
}
