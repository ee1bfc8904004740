package config

const (
	DefaultGroqModel     = "llama-3.1-8b-instant"
	DefaultMaxIterations = 6
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:         "info",
			MaxIterations:    DefaultMaxIterations,
			DefaultProvider:  "groq",
			MaxContextTokens: 8192,
		},
		Providers: map[string]ProviderConfig{
			"groq": {
				Enabled:      true,
				Kind:         "openai",
				APIBase:      "https://api.groq.com/openai/v1",
				APIKeyEnv:    "GROQ_API_KEY",
				DefaultModel: DefaultGroqModel,
			},
			"openai": {
				Enabled:      false,
				Kind:         "openai",
				APIBase:      "https://api.openai.com/v1",
				APIKeyEnv:    "OPENAI_API_KEY",
				DefaultModel: "gpt-4o-mini",
			},
			"anthropic": {
				Enabled:      false,
				Kind:         "anthropic",
				APIKeyEnv:    "ANTHROPIC_API_KEY",
				DefaultModel: "claude-3-5-haiku-latest",
				MaxTokens:    1024,
			},
		},
		Datasets: DatasetsConfig{
			Dir:     "databases",
			Entries: defaultDatasets(),
		},
		Search: SearchConfig{
			Provider:       "duckduckgo",
			TimeoutSeconds: 15,
			MaxResults:     5,
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  "~/.bdagent/journal.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}

func defaultDatasets() []DatasetConfig {
	return []DatasetConfig{
		{
			Name:        "institutions",
			Source:      "Mahadih534/Institutional-Information-of-Bangladesh",
			Path:        "institutions.db",
			Table:       "institutions",
			Description: "Useful for questions about universities, colleges, government institutions in Bangladesh.",
		},
		{
			Name:        "hospitals",
			Source:      "Mahadih534/all-bangladeshi-hospitals",
			Path:        "hospitals.db",
			Table:       "hospitals",
			Description: "Useful for questions about hospitals, bed capacity, doctors, facilities in Bangladesh.",
		},
		{
			Name:        "restaurants",
			Source:      "Mahadih534/Bangladeshi-Restaurant-Data",
			Path:        "restaurants.db",
			Table:       "restaurants",
			Description: "Useful for questions about restaurants, cuisine, ratings, locations in Bangladesh.",
		},
	}
}
