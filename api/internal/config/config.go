package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port" validate:"required,numeric"`

	ArkAPIKey  string `yaml:"ark_api_key"`
	ArkBaseURL string `yaml:"ark_base_url" validate:"omitempty,url"`
	ArkModel   string `yaml:"ark_model"`

	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	DefaultEngine string `yaml:"default_engine" validate:"oneof=ark gemini anthropic"`

	DatabaseURL    string        `yaml:"database_url"`
	ReviewCacheTTL time.Duration `yaml:"review_cache_ttl" validate:"gte=0"`

	TelegramBotToken string `yaml:"telegram_bot_token"`

	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadMB    int64         `yaml:"max_upload_mb" validate:"gte=1,lte=512"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	LLMRPS   float64 `yaml:"llm_rps" validate:"gte=0"`
	LLMBurst int     `yaml:"llm_burst" validate:"gte=1"`

	PromptFile          string  `yaml:"prompt_file" validate:"omitempty,file"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Defaults are the values used when neither the file nor the env set a key.
func Defaults() Config {
	return Config{
		Port:                "8000",
		ArkBaseURL:          "https://ark.cn-beijing.volces.com/api/v3",
		ArkModel:            "doubao-seed-1-6-vision-250815",
		GeminiModel:         "gemini-2.5-flash",
		AnthropicModel:      "claude-sonnet-4-5",
		DefaultEngine:       "ark",
		ReviewCacheTTL:      7 * 24 * time.Hour,
		MaxUploadMB:         25,
		RequestTimeout:      180 * time.Second,
		LLMRPS:              2,
		LLMBurst:            4,
		SimilarityThreshold: 0.8,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load reads CONFIG_FILE (if set), then applies env overrides and validates.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func applyEnv(c *Config) error {
	c.Port = getEnv("PORT", c.Port)

	c.ArkAPIKey = getEnv("ARK_API_KEY", c.ArkAPIKey)
	c.ArkBaseURL = getEnv("ARK_BASE_URL", c.ArkBaseURL)
	c.ArkModel = getEnv("ARK_MODEL", c.ArkModel)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = getEnv("ANTHROPIC_MODEL", c.AnthropicModel)
	c.DefaultEngine = strings.ToLower(getEnv("DEFAULT_ENGINE", c.DefaultEngine))

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.PromptFile = getEnv("PROMPT_FILE", c.PromptFile)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", c.LogFormat))

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	var errs []error
	durEnv := func(k string, dst *time.Duration) {
		if v := os.Getenv(k); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = d
		}
	}
	durEnv("REVIEW_CACHE_TTL", &c.ReviewCacheTTL)
	durEnv("REQUEST_TIMEOUT", &c.RequestTimeout)

	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB: %w", err))
		} else {
			c.MaxUploadMB = n
		}
	}
	if v := os.Getenv("LLM_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LLM_BURST: %w", err))
		} else {
			c.LLMBurst = n
		}
	}
	floatEnv := func(k string, dst *float64) {
		if v := os.Getenv(k); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = f
		}
	}
	floatEnv("LLM_RPS", &c.LLMRPS)
	floatEnv("SIMILARITY_THRESHOLD", &c.SimilarityThreshold)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks field constraints and that the default engine has a key.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.APIKey(c.DefaultEngine) == "" {
		return fmt.Errorf("invalid config: default engine %q has no API key", c.DefaultEngine)
	}
	return nil
}

// APIKey returns the key configured for engine, or "".
func (c *Config) APIKey(engine string) string {
	switch engine {
	case "ark":
		return c.ArkAPIKey
	case "gemini":
		return c.GeminiAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	}
	return ""
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 { return c.MaxUploadMB << 20 }

// Addr is the listen address, preferring the platform PORT.
func (c *Config) Addr() string { return ":" + c.Port }
