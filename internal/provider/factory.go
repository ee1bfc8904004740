package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"bdagent/internal/config"
	"bdagent/internal/domain"
)

// ErrMissingAPIKey is returned when a provider has no credentials.
var ErrMissingAPIKey = errors.New("missing API key")

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors
// registered, keyed by provider kind.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) the constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			Name:      name,
			APIKey:    pc.APIKey,
			APIBase:   pc.APIBase,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    logger,
		})
	}
	f.constructors["anthropic"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewAnthropic(AnthropicConfig{
			APIKey:    pc.APIKey,
			APIBase:   pc.APIBase,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    logger,
		})
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	if err := CheckCredentials(name, pc); err != nil {
		return nil, err
	}

	ctor, found := f.constructors[pc.Kind]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered for kind %q", name, pc.Kind)
	}

	p := ctor(name, pc, f.logger)
	f.cache[name] = p
	return p, nil
}

// Model returns the configured default model for the named provider.
func (f *Factory) Model(name string) string {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}
	return f.cfg.Providers[name].DefaultModel
}

// DefaultProvider returns the configured default provider, wrapped in a
// failover chain when general.failoverChain is set. Chain members that cannot
// be built are skipped with a warning; the default provider itself must work.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	primary, err := f.Get("")
	if err != nil {
		return nil, err
	}
	if len(f.cfg.General.FailoverChain) == 0 {
		return primary, nil
	}

	chain := []domain.Provider{primary}
	for _, name := range f.cfg.General.FailoverChain {
		if name == f.cfg.General.DefaultProvider {
			continue
		}
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover provider skipped", "provider", name, "error", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// HealthyProvider returns the first enabled provider that passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name, pc := range f.cfg.Providers {
		if !pc.Enabled {
			continue
		}
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}

// CheckCredentials reports a missing API key, naming the environment
// variable that would supply it.
func CheckCredentials(name string, pc config.ProviderConfig) error {
	if pc.APIKey != "" {
		return nil
	}
	if pc.APIKeyEnv != "" {
		return fmt.Errorf("%w for provider %s (set %s)", ErrMissingAPIKey, name, pc.APIKeyEnv)
	}
	return fmt.Errorf("%w for provider %s", ErrMissingAPIKey, name)
}
