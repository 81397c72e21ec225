// /internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Model holds the generation backend endpoint and sampling parameters.
type Model struct {
	APIURL           string        `env:"API_URL" envDefault:"https://api.together.xyz/v1/chat/completions"`
	APIKey           string        `env:"API_KEY"`
	Name             string        `env:"NAME" envDefault:"mistralai/Mixtral-8x7B-Instruct-v0.1"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"45s"`
	Temperature      float64       `env:"TEMPERATURE" envDefault:"0.75"`
	MaxTokens        int           `env:"MAX_TOKENS" envDefault:"500"`
	TopP             float64       `env:"TOP_P" envDefault:"0.9"`
	PresencePenalty  float64       `env:"PRESENCE_PENALTY" envDefault:"0.5"`
	FrequencyPenalty float64       `env:"FREQUENCY_PENALTY" envDefault:"0.5"`
	RatePerSecond    float64       `env:"RATE_PER_SECOND" envDefault:"2"`
	RateMax          float64       `env:"RATE_MAX" envDefault:"5"`
}

// Memory sizes the short-term window and the consolidation trigger.
type Memory struct {
	MaxTurns               int `env:"MAX_TURNS" envDefault:"10"`
	ConsolidationThreshold int `env:"CONSOLIDATION_THRESHOLD" envDefault:"16"`
}

// Onboarding toggles the optional intake states.
type Onboarding struct {
	AskNickname bool   `env:"ASK_NICKNAME" envDefault:"true"`
	AskConsent  bool   `env:"ASK_CONSENT" envDefault:"true"`
	ScriptPath  string `env:"SCRIPT_PATH"`
}

// Log configures the process logger.
type Log struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"20"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	JSON       bool   `env:"JSON" envDefault:"false"`
}

type Config struct {
	// TogetherAPIKey is kept for compatibility with deployments of the first bot.
	TogetherAPIKey string `env:"TOGETHER_API_KEY"`
	DiscordToken   string `env:"DISCORD_TOKEN"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	StoragePath    string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	Model      Model      `envPrefix:"MODEL_"`
	Memory     Memory     `envPrefix:"MEMORY_"`
	Onboarding Onboarding `envPrefix:"ONBOARDING_"`
	Log        Log        `envPrefix:"LOG_"`
}

// ConfigurationError lists every problem found at startup. It is fatal:
// no session may be served with an invalid configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads .env (if present) and the process environment, then validates
// the settings shared by every entry point.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info().Msg("No .env file found, falling back to system environment variables")
		} else {
			log.Warn().Err(err).Msg("Failed to read .env file")
		}
	}
	return Parse()
}

// Parse builds a Config from the current environment without touching .env.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, &ConfigurationError{Problems: []string{err.Error()}}
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = cfg.TogetherAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the session engine cannot run without.
func (c *Config) Validate() error {
	var problems []string
	if c.Model.APIKey == "" {
		problems = append(problems, "TOGETHER_API_KEY (or MODEL_API_KEY) is not set")
	}
	if c.Model.APIURL == "" {
		problems = append(problems, "MODEL_API_URL is empty")
	}
	if c.Model.Timeout <= 0 {
		problems = append(problems, "MODEL_TIMEOUT must be positive")
	}
	if c.Model.MaxTokens <= 0 {
		problems = append(problems, "MODEL_MAX_TOKENS must be positive")
	}
	if c.Model.RatePerSecond <= 0 || c.Model.RateMax < c.Model.RatePerSecond {
		problems = append(problems, "MODEL_RATE_PER_SECOND must be positive and not above MODEL_RATE_MAX")
	}
	if c.Memory.MaxTurns <= 0 {
		problems = append(problems, "MEMORY_MAX_TURNS must be positive")
	}
	if c.Memory.ConsolidationThreshold <= 0 || c.Memory.ConsolidationThreshold > 2*c.Memory.MaxTurns {
		problems = append(problems, fmt.Sprintf(
			"MEMORY_CONSOLIDATION_THRESHOLD must be in 1..%d (2 x MEMORY_MAX_TURNS)", 2*c.Memory.MaxTurns))
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// RequireDiscord validates the extra settings of the Discord entry point.
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return &ConfigurationError{Problems: []string{"DISCORD_TOKEN is not set"}}
	}
	return nil
}
