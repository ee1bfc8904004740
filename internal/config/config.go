package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for bdagent.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Datasets  DatasetsConfig            `json:"datasets"`
	Search    SearchConfig              `json:"search"`
	Journal   JournalConfig             `json:"journal"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel          string   `json:"logLevel"`
	MaxIterations     int      `json:"maxIterations"`
	DefaultProvider   string   `json:"defaultProvider"`
	FailoverChain     []string `json:"failoverChain,omitempty"` // provider failover order
	MaxContextTokens  int      `json:"maxContextTokens,omitempty"`
	RatePerMinute     float64  `json:"ratePerMinute,omitempty"` // model calls per minute, 0 = default
	SystemPromptExtra string   `json:"systemPromptExtra,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	Kind         string `json:"kind"` // "openai" | "anthropic"
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	APIKeyEnv    string `json:"apiKeyEnv,omitempty"` // env var consulted when apiKey is empty
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
}

// DatasetsConfig locates the tabular datasets the query tools are built from.
type DatasetsConfig struct {
	Dir     string          `json:"dir"`               // base dir for relative sqlite paths
	Catalog string          `json:"catalog,omitempty"` // optional YAML catalog overriding Entries
	Entries []DatasetConfig `json:"entries"`
}

type DatasetConfig struct {
	Name        string `json:"name" yaml:"name"`
	Source      string `json:"source" yaml:"source"`                     // HF dataset path or local .csv/.xlsx
	Driver      string `json:"driver,omitempty" yaml:"driver,omitempty"` // "sqlite" | "postgres"
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`     // sqlite file
	DSN         string `json:"dsn,omitempty" yaml:"dsn,omitempty"`       // postgres connection string
	Table       string `json:"table" yaml:"table"`
	Description string `json:"description" yaml:"description"`
}

type SearchConfig struct {
	Provider       string `json:"provider"` // "duckduckgo" | "google" | "none"
	APIKey         string `json:"apiKey,omitempty"`
	EngineID       string `json:"engineId,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	MaxResults     int    `json:"maxResults"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus-format metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// DefaultConfigDir returns the default config directory (~/.bdagent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bdagent"
	}
	return filepath.Join(home, ".bdagent")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path over Defaults(), expands ${VAR} references,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to Defaults() when the file
// does not exist. Any other read or parse error is returned.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = finish(Defaults())
	return cfg, false, err
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)

	cfg.Datasets.Dir = ExpandPath(cfg.Datasets.Dir)
	cfg.Datasets.Catalog = ExpandPath(cfg.Datasets.Catalog)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills provider keys and models from the environment. Explicit
// config values win over the environment, except for GROQ_MODEL which is the
// documented way to pick the Groq model.
func ApplyEnv(cfg *Config) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" && pc.APIKeyEnv != "" {
			pc.APIKey = os.Getenv(pc.APIKeyEnv)
		}
		if name == "groq" {
			if model := os.Getenv("GROQ_MODEL"); model != "" {
				pc.DefaultModel = model
			}
		}
		cfg.Providers[name] = pc
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("GOOGLE_SEARCH_API_KEY")
	}
	if cfg.Search.EngineID == "" {
		cfg.Search.EngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	}
	if lvl := os.Getenv("BDAGENT_LOG_LEVEL"); lvl != "" {
		cfg.General.LogLevel = lvl
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 50 {
		errs = append(errs, "general.maxIterations must be between 1 and 50")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.RatePerMinute < 0 {
		errs = append(errs, "general.ratePerMinute must be >= 0")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Providers {
		switch pc.Kind {
		case "openai":
			if pc.Enabled && pc.APIBase == "" {
				errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required for openai-compatible providers", name))
			}
		case "anthropic":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be one of: openai, anthropic", name))
		}
	}

	seen := make(map[string]bool)
	for i, ds := range cfg.Datasets.Entries {
		if ds.Name == "" || ds.Table == "" {
			errs = append(errs, fmt.Sprintf("datasets.entries[%d]: name and table are required", i))
		}
		if seen[ds.Table] {
			errs = append(errs, fmt.Sprintf("datasets.entries[%d]: duplicate table %q", i, ds.Table))
		}
		seen[ds.Table] = true
		switch ds.Driver {
		case "", "sqlite":
		case "postgres":
			if ds.DSN == "" {
				errs = append(errs, fmt.Sprintf("datasets.entries[%d]: dsn is required for postgres", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("datasets.entries[%d]: driver must be sqlite or postgres", i))
		}
	}

	switch cfg.Search.Provider {
	case "duckduckgo", "google", "none":
	default:
		errs = append(errs, "search.provider must be one of: duckduckgo, google, none")
	}
	if cfg.Search.TimeoutSeconds < 1 {
		errs = append(errs, "search.timeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
