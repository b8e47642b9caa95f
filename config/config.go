package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port     string `validate:"required,numeric"`
	GinMode  string `validate:"oneof=debug release test"`
	DevMode  bool
	LogLevel string `validate:"oneof=trace debug info warn error fatal panic"`
	// LogFormat is console or json.
	LogFormat     string `validate:"oneof=console json"`
	LogFile       string
	LogMaxSizeMB  int `validate:"min=1"`
	LogMaxBackups int `validate:"min=0"`

	UserAgent         string        `validate:"required"`
	FetchTimeout      time.Duration `validate:"min=1s"`
	AuxFetchTimeout   time.Duration `validate:"min=100ms"`
	ProbeTimeout      time.Duration `validate:"min=100ms"`
	ProviderTimeout   time.Duration `validate:"min=1s"`
	MaxRedirects      int           `validate:"min=0,max=20"`
	ProbeMaxRedirects int           `validate:"min=0,max=20"`
	ProbeLimit        int           `validate:"min=0,max=1000"`
	ProbeConcurrency  int           `validate:"min=1,max=100"`
	KeywordBodyChars  int           `validate:"min=0"`
	StopWords         []string
	BlockPrivateNets  bool

	PageSpeedAPIKey    string
	PageSpeedEndpoint  string `validate:"omitempty,url"`
	CompletionAPIKey   string
	CompletionEndpoint string `validate:"omitempty,url"`
	CompletionModel    string

	RateLimitRPS   float64 `validate:"gt=0"`
	RateLimitBurst int     `validate:"min=1"`

	MaxCustomers        int           `validate:"min=1"`
	EntitlementValidity time.Duration `validate:"min=1m"`
	WebhookSecret       string
	RequireEntitlement  bool

	// StatsDir enables on-disk snapshots of pipeline counters. Empty keeps them in memory.
	StatsDir string
}

// LoadEnv loads .env.development, falling back to .env. Missing files are not an error.
func LoadEnv() {
	if err := godotenv.Load(".env.development"); err != nil {
		_ = godotenv.Load()
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	LoadEnv()

	cfg := Config{
		Port:          getEnv("PORT", "8082"),
		GinMode:       getEnv("GIN_MODE", "release"),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "console")),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),

		UserAgent:         getEnv("USER_AGENT", "MolaisonSEOBot/1.0 (+https://molaison.ai/bot)"),
		FetchTimeout:      getEnvAsDuration("FETCH_TIMEOUT", 15*time.Second),
		AuxFetchTimeout:   getEnvAsDuration("AUX_FETCH_TIMEOUT", 5*time.Second),
		ProbeTimeout:      getEnvAsDuration("PROBE_TIMEOUT", 5*time.Second),
		ProviderTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		MaxRedirects:      getEnvAsInt("MAX_REDIRECTS", 5),
		ProbeMaxRedirects: getEnvAsInt("PROBE_MAX_REDIRECTS", 3),
		ProbeLimit:        getEnvAsInt("PROBE_LIMIT", 20),
		ProbeConcurrency:  getEnvAsInt("PROBE_CONCURRENCY", 10),
		KeywordBodyChars:  getEnvAsInt("KEYWORD_BODY_CHARS", 5000),
		StopWords:         getEnvAsList("STOP_WORDS"),
		BlockPrivateNets:  getEnvAsBool("BLOCK_PRIVATE_NETWORKS", true),

		PageSpeedAPIKey:    getEnv("PAGESPEED_API_KEY", ""),
		PageSpeedEndpoint:  getEnv("PAGESPEED_ENDPOINT", "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"),
		CompletionAPIKey:   getEnv("COMPLETION_API_KEY", ""),
		CompletionEndpoint: getEnv("COMPLETION_ENDPOINT", "https://api.openai.com/v1"),
		CompletionModel:    getEnv("COMPLETION_MODEL", "gpt-4o-mini"),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 5),

		MaxCustomers:        getEnvAsInt("MAX_CUSTOMERS", 100),
		EntitlementValidity: getEnvAsDuration("ENTITLEMENT_VALIDITY", 720*time.Hour),
		WebhookSecret:       getEnv("WEBHOOK_SECRET", ""),
		RequireEntitlement:  getEnvAsBool("REQUIRE_ENTITLEMENT", false),

		StatsDir: getEnv("STATS_DIR", ""),
	}

	return cfg, cfg.Validate()
}

// Validate checks field constraints declared in struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(strings.ToLower(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
