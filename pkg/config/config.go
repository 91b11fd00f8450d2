package config

import (
	"fmt"
	"time"
)

// Config is the resolved application configuration. Build it with Load; every
// field carries a default so an empty (or absent) YAML file yields a runnable
// configuration.
type Config struct {
	LLM         LLMConfig
	Search      SearchConfig
	Memory      MemoryConfig
	Auth        AuthConfig
	Database    DatabaseConfig
	Style       StyleConfig
	Dispatcher  DispatcherConfig
	Reliability ReliabilityConfig
}

// LLMConfig configures the language-model provider.
type LLMConfig struct {
	// Provider selects the wire dialect. Only "openai" (OpenAI-compatible
	// chat/completions) is currently implemented.
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// Temperature is passed through on every generation unless the caller
	// overrides it per request.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// TimeoutSeconds bounds one generation call, streaming included.
	TimeoutSeconds int `yaml:"timeout"`
}

// Timeout returns the per-call deadline.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SearchConfig configures the web-search provider (MCP over HTTP).
type SearchConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIKey         string `yaml:"api_key"`
	Endpoint       string `yaml:"endpoint"`
	MaxResults     int    `yaml:"max_results"`
	TimeoutSeconds int    `yaml:"timeout"`
}

// Timeout returns the per-search deadline.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MemoryConfig configures both memory tiers and their retention.
type MemoryConfig struct {
	// ShortTermMaxMessages caps the in-memory dialog history per user.
	ShortTermMaxMessages int `yaml:"short_term_max_messages"`
	// ShortTermSessionTimeoutSeconds is the idle span after which the active
	// session is considered stale and a new one is opened.
	ShortTermSessionTimeoutSeconds int  `yaml:"short_term_session_timeout_s"`
	LongTermEnabled                bool `yaml:"long_term_enabled"`
	ExtractionEnabled              bool `yaml:"long_term_extraction_enabled"`
	// ConfidenceThreshold discards extracted facts below it.
	ConfidenceThreshold float64 `yaml:"long_term_confidence_threshold"`
	// CleanupDays is the message retention horizon for the nightly sweep.
	CleanupDays int `yaml:"cleanup_days"`
	// CleanupSchedule is a cron expression for the retention sweep.
	CleanupSchedule string `yaml:"cleanup_schedule"`
	// MaxDialogContexts caps the in-memory per-user dialog context map;
	// the least recently used context is evicted beyond it.
	MaxDialogContexts int `yaml:"max_dialog_contexts"`
}

// SessionTimeout returns the idle span that closes an active session.
func (c MemoryConfig) SessionTimeout() time.Duration {
	return time.Duration(c.ShortTermSessionTimeoutSeconds) * time.Second
}

// AuthConfig configures turn admission and the admin HTTP surface.
type AuthConfig struct {
	Enabled      bool    `yaml:"enabled"`
	AdminIDs     []int64 `yaml:"admin_ids"`
	AdminPort    int     `yaml:"admin_port"`
	AdminEnabled bool    `yaml:"admin_enabled"`
}

// IsAdmin reports whether the given user id is in the admin list.
func (c AuthConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	User                     string `yaml:"user"`
	Password                 string `yaml:"password"`
	Name                     string `yaml:"name"`
	SSLMode                  string `yaml:"sslmode"`
	MinPoolSize              int    `yaml:"min_pool_size"`
	MaxPoolSize              int    `yaml:"max_pool_size"`
	ConnectionTimeoutSeconds int    `yaml:"connection_timeout_s"`
}

// DSN builds the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// ConnectTimeout returns the pool acquisition deadline.
func (c DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

// StyleConfig selects the system-prompt template for user-facing replies.
type StyleConfig struct {
	Tag string `yaml:"tag"`
}

// DispatcherConfig toggles LLM planning. When disabled, turns route through
// the registry's best-scoring agent directly.
type DispatcherConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ReliabilityConfig tunes the retry operator and circuit breaker guarding
// external providers.
type ReliabilityConfig struct {
	RetryMaxAttempts        int `yaml:"retry_max_attempts"`
	RetryBaseDelayMS        int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS         int `yaml:"retry_max_delay_ms"`
	RetryJitterMS           int `yaml:"retry_jitter_ms"`
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold int `yaml:"breaker_success_threshold"`
	BreakerRecoverySeconds  int `yaml:"breaker_recovery_timeout_s"`
}

// RetryBaseDelay returns the backoff seed.
func (c ReliabilityConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap.
func (c ReliabilityConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}

// RetryJitter returns the uniform jitter bound.
func (c ReliabilityConfig) RetryJitter() time.Duration {
	return time.Duration(c.RetryJitterMS) * time.Millisecond
}

// BreakerRecoveryTimeout returns how long the breaker stays open.
func (c ReliabilityConfig) BreakerRecoveryTimeout() time.Duration {
	return time.Duration(c.BreakerRecoverySeconds) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			BaseURL:        "https://api.openai.com/v1",
			Temperature:    0.7,
			TimeoutSeconds: 60,
		},
		Search: SearchConfig{
			// Off until an MCP endpoint is configured; validation rejects
			// enabled search without one.
			Enabled:        false,
			MaxResults:     5,
			TimeoutSeconds: 30,
		},
		Memory: MemoryConfig{
			ShortTermMaxMessages:           20,
			ShortTermSessionTimeoutSeconds: 1800,
			LongTermEnabled:                true,
			ExtractionEnabled:              true,
			ConfidenceThreshold:            0.7,
			CleanupDays:                    90,
			CleanupSchedule:                "0 4 * * *",
			MaxDialogContexts:              1000,
		},
		Auth: AuthConfig{
			Enabled:      false,
			AdminPort:    8080,
			AdminEnabled: true,
		},
		Database: DatabaseConfig{
			Host:                     "localhost",
			Port:                     5432,
			User:                     "nergal",
			Name:                     "nergal",
			SSLMode:                  "disable",
			MinPoolSize:              2,
			MaxPoolSize:              10,
			ConnectionTimeoutSeconds: 10,
		},
		Style: StyleConfig{
			Tag: StyleAssistant,
		},
		Dispatcher: DispatcherConfig{
			Enabled: true,
		},
		Reliability: ReliabilityConfig{
			RetryMaxAttempts:        3,
			RetryBaseDelayMS:        500,
			RetryMaxDelayMS:         10000,
			RetryJitterMS:           250,
			BreakerFailureThreshold: 5,
			BreakerSuccessThreshold: 2,
			BreakerRecoverySeconds:  30,
		},
	}
}

// Validate checks cross-field invariants after loading.
func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		return NewValidationError("llm", "provider", ErrMissingRequiredField)
	}
	if c.LLM.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return NewValidationError("llm", "temperature", ErrInvalidValue)
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 50 {
		return NewValidationError("search", "max_results", ErrInvalidValue)
	}
	if c.Search.Enabled && c.Search.Endpoint == "" {
		return NewValidationError("search", "endpoint", ErrMissingRequiredField)
	}
	if c.Memory.ConfidenceThreshold < 0 || c.Memory.ConfidenceThreshold > 1 {
		return NewValidationError("memory", "long_term_confidence_threshold", ErrInvalidValue)
	}
	if c.Memory.ShortTermMaxMessages < 1 {
		return NewValidationError("memory", "short_term_max_messages", ErrInvalidValue)
	}
	if c.Database.MinPoolSize < 0 || c.Database.MaxPoolSize < c.Database.MinPoolSize {
		return NewValidationError("database", "max_pool_size", ErrInvalidValue)
	}
	if !IsKnownStyle(c.Style.Tag) {
		return NewValidationError("style", "tag", ErrInvalidValue)
	}
	if c.Reliability.RetryMaxAttempts < 1 {
		return NewValidationError("reliability", "retry_max_attempts", ErrInvalidValue)
	}
	return nil
}
