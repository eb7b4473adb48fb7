package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/shouni/go-utils/envutil"

	"github.com/manash/memegen/pkg/models"
)

const (
	DefaultProvider   = models.ProviderGemini
	DefaultAddr       = "127.0.0.1:8080"
	DefaultLogLevel   = "info"
	DefaultRate       = 1.0
	DefaultBurst      = 2
	DefaultTimeoutSec = 120
	DefaultEnvFile    = ".env"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds settings read from .env and the environment. Command-line
// flags are applied on top by the caller.
type Config struct {
	GeminiAPIKey string
	OpenAIAPIKey string
	Provider     models.ProviderType

	CaptionModel  string
	AnalysisModel string
	EditModel     string

	DBPath     string
	Addr       string
	LogLevel   string
	Rate       float64
	Burst      int
	TimeoutSec int
}

// Load reads envFiles (missing files are skipped) into the process
// environment without overriding variables that are already set, then
// builds a Config from the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:  envutil.GetEnv("GEMINI_API_KEY", os.Getenv("API_KEY")),
		OpenAIAPIKey:  envutil.GetEnv("OPENAI_API_KEY", ""),
		Provider:      models.ProviderType(strings.ToLower(envutil.GetEnv("MEMEGEN_PROVIDER", string(DefaultProvider)))),
		CaptionModel:  envutil.GetEnv("MEMEGEN_CAPTION_MODEL", ""),
		AnalysisModel: envutil.GetEnv("MEMEGEN_ANALYSIS_MODEL", ""),
		EditModel:     envutil.GetEnv("MEMEGEN_EDIT_MODEL", ""),
		DBPath:        envutil.GetEnv("MEMEGEN_DB", ""),
		Addr:          envutil.GetEnv("MEMEGEN_ADDR", DefaultAddr),
		LogLevel:      envutil.GetEnv("MEMEGEN_LOG_LEVEL", DefaultLogLevel),
		Rate:          DefaultRate,
		Burst:         DefaultBurst,
		TimeoutSec:    DefaultTimeoutSec,
	}

	if v := os.Getenv("MEMEGEN_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: MEMEGEN_RATE=%q", ErrInvalidConfig, v)
		}
		cfg.Rate = rate
	}
	if v := os.Getenv("MEMEGEN_TIMEOUT"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: MEMEGEN_TIMEOUT=%q", ErrInvalidConfig, v)
		}
		cfg.TimeoutSec = sec
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !c.Provider.IsValid() {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Rate <= 0 {
		return fmt.Errorf("%w: rate must be positive", ErrInvalidConfig)
	}
	if c.Burst < 1 {
		return fmt.Errorf("%w: burst must be at least 1", ErrInvalidConfig)
	}
	if c.TimeoutSec <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// APIKey returns the configured key for a provider.
func (c *Config) APIKey(pt models.ProviderType) string {
	switch pt {
	case models.ProviderGemini:
		return c.GeminiAPIKey
	case models.ProviderOpenAI:
		return c.OpenAIAPIKey
	}
	return ""
}

// Level is the parsed log level; Validate guarantees it parses.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
