package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML-facing shape of the configuration file. Boolean
// toggles are pointers so an explicit `false` can be told apart from "not
// set"; everything else relies on zero-value checks during resolution.
type fileConfig struct {
	LLM struct {
		Provider       string  `yaml:"provider"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		BaseURL        string  `yaml:"base_url"`
		Temperature    float64 `yaml:"temperature"`
		MaxTokens      int     `yaml:"max_tokens"`
		TimeoutSeconds int     `yaml:"timeout"`
	} `yaml:"llm"`
	Search struct {
		Enabled        *bool  `yaml:"enabled"`
		APIKey         string `yaml:"api_key"`
		Endpoint       string `yaml:"endpoint"`
		MaxResults     int    `yaml:"max_results"`
		TimeoutSeconds int    `yaml:"timeout"`
	} `yaml:"search"`
	Memory struct {
		ShortTermMaxMessages           int      `yaml:"short_term_max_messages"`
		ShortTermSessionTimeoutSeconds int      `yaml:"short_term_session_timeout_s"`
		LongTermEnabled                *bool    `yaml:"long_term_enabled"`
		ExtractionEnabled              *bool    `yaml:"long_term_extraction_enabled"`
		ConfidenceThreshold            *float64 `yaml:"long_term_confidence_threshold"`
		CleanupDays                    int      `yaml:"cleanup_days"`
		CleanupSchedule                string   `yaml:"cleanup_schedule"`
		MaxDialogContexts              int      `yaml:"max_dialog_contexts"`
	} `yaml:"memory"`
	Auth struct {
		Enabled      *bool   `yaml:"enabled"`
		AdminIDs     []int64 `yaml:"admin_ids"`
		AdminPort    int     `yaml:"admin_port"`
		AdminEnabled *bool   `yaml:"admin_enabled"`
	} `yaml:"auth"`
	Database   DatabaseConfig `yaml:"database"`
	Style      StyleConfig    `yaml:"style"`
	Dispatcher struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"dispatcher"`
	Reliability ReliabilityConfig `yaml:"reliability"`
}

// Load reads the YAML file at path, expands environment references, and
// resolves it over the built-in defaults. A missing file is not an error:
// the defaults (plus environment overrides) are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration loaded",
		"file", path,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"search_enabled", cfg.Search.Enabled,
		"long_term_memory", cfg.Memory.LongTermEnabled,
		"dispatcher", cfg.Dispatcher.Enabled,
		"style", cfg.Style.Tag)

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("Configuration file not found, using defaults", "file", path)
			return nil
		}
		return NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	resolveLLM(cfg, &file)
	resolveSearch(cfg, &file)
	resolveMemory(cfg, &file)
	resolveAuth(cfg, &file)
	resolveDatabase(cfg, &file)
	if file.Style.Tag != "" {
		cfg.Style.Tag = file.Style.Tag
	}
	if file.Dispatcher.Enabled != nil {
		cfg.Dispatcher.Enabled = *file.Dispatcher.Enabled
	}

	// Numeric-only section: non-zero user values override defaults.
	if err := mergo.Merge(&cfg.Reliability, file.Reliability, mergo.WithOverride); err != nil {
		return NewLoadError(path, fmt.Errorf("failed to merge reliability config: %w", err))
	}

	return nil
}

func resolveLLM(cfg *Config, file *fileConfig) {
	f := file.LLM
	if f.Provider != "" {
		cfg.LLM.Provider = f.Provider
	}
	if f.APIKey != "" {
		cfg.LLM.APIKey = f.APIKey
	}
	if f.Model != "" {
		cfg.LLM.Model = f.Model
	}
	if f.BaseURL != "" {
		cfg.LLM.BaseURL = f.BaseURL
	}
	if f.Temperature != 0 {
		cfg.LLM.Temperature = f.Temperature
	}
	if f.MaxTokens != 0 {
		cfg.LLM.MaxTokens = f.MaxTokens
	}
	if f.TimeoutSeconds != 0 {
		cfg.LLM.TimeoutSeconds = f.TimeoutSeconds
	}
}

func resolveSearch(cfg *Config, file *fileConfig) {
	f := file.Search
	if f.Enabled != nil {
		cfg.Search.Enabled = *f.Enabled
	}
	if f.APIKey != "" {
		cfg.Search.APIKey = f.APIKey
	}
	if f.Endpoint != "" {
		cfg.Search.Endpoint = f.Endpoint
	}
	if f.MaxResults != 0 {
		cfg.Search.MaxResults = f.MaxResults
	}
	if f.TimeoutSeconds != 0 {
		cfg.Search.TimeoutSeconds = f.TimeoutSeconds
	}
}

func resolveMemory(cfg *Config, file *fileConfig) {
	f := file.Memory
	if f.ShortTermMaxMessages != 0 {
		cfg.Memory.ShortTermMaxMessages = f.ShortTermMaxMessages
	}
	if f.ShortTermSessionTimeoutSeconds != 0 {
		cfg.Memory.ShortTermSessionTimeoutSeconds = f.ShortTermSessionTimeoutSeconds
	}
	if f.LongTermEnabled != nil {
		cfg.Memory.LongTermEnabled = *f.LongTermEnabled
	}
	if f.ExtractionEnabled != nil {
		cfg.Memory.ExtractionEnabled = *f.ExtractionEnabled
	}
	if f.ConfidenceThreshold != nil {
		cfg.Memory.ConfidenceThreshold = *f.ConfidenceThreshold
	}
	if f.CleanupDays != 0 {
		cfg.Memory.CleanupDays = f.CleanupDays
	}
	if f.CleanupSchedule != "" {
		cfg.Memory.CleanupSchedule = f.CleanupSchedule
	}
	if f.MaxDialogContexts != 0 {
		cfg.Memory.MaxDialogContexts = f.MaxDialogContexts
	}
}

func resolveAuth(cfg *Config, file *fileConfig) {
	f := file.Auth
	if f.Enabled != nil {
		cfg.Auth.Enabled = *f.Enabled
	}
	if len(f.AdminIDs) > 0 {
		cfg.Auth.AdminIDs = f.AdminIDs
	}
	if f.AdminPort != 0 {
		cfg.Auth.AdminPort = f.AdminPort
	}
	if f.AdminEnabled != nil {
		cfg.Auth.AdminEnabled = *f.AdminEnabled
	}
}

func resolveDatabase(cfg *Config, file *fileConfig) {
	f := file.Database
	if f.Host != "" {
		cfg.Database.Host = f.Host
	}
	if f.Port != 0 {
		cfg.Database.Port = f.Port
	}
	if f.User != "" {
		cfg.Database.User = f.User
	}
	if f.Password != "" {
		cfg.Database.Password = f.Password
	}
	if f.Name != "" {
		cfg.Database.Name = f.Name
	}
	if f.SSLMode != "" {
		cfg.Database.SSLMode = f.SSLMode
	}
	if f.MinPoolSize != 0 {
		cfg.Database.MinPoolSize = f.MinPoolSize
	}
	if f.MaxPoolSize != 0 {
		cfg.Database.MaxPoolSize = f.MaxPoolSize
	}
	if f.ConnectionTimeoutSeconds != 0 {
		cfg.Database.ConnectionTimeoutSeconds = f.ConnectionTimeoutSeconds
	}
}

// applyEnvOverrides lets secrets and deployment coordinates come from the
// environment without a config file. Environment wins over YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SEARCH_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("SEARCH_ENDPOINT"); v != "" {
		cfg.Search.Endpoint = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
}
