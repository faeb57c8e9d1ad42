package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jayasuryajsk/lorikeet/internal/config"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadConfigWithSetup loads the effective config (defaults + env vars +
// config file). When no config file exists yet it still returns a usable
// config built from environment variables and built-in defaults, but warns
// once on stderr so a first-time user knows where to put persistent
// settings.
func loadConfigWithSetup() (*config.Config, error) {
	if config.NeedsSetup() {
		path, err := config.GetConfigPath()
		if err == nil {
			fmt.Fprintf(os.Stderr, "no config file found; using environment variables and defaults (run 'term-llm config edit' to create one at %s)\n", path)
		}
	}
	return loadConfig()
}

// parseProviderModel splits a "--provider" flag value shaped either
// "provider" or "provider:model" and validates provider against cfg's
// configured providers.
func parseProviderModel(s string, cfg *config.Config) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	provider := strings.TrimSpace(parts[0])
	if provider == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}
	if cfg != nil {
		if _, ok := cfg.Providers[provider]; !ok {
			return "", "", fmt.Errorf("unknown provider: %s", provider)
		}
	}
	return provider, model, nil
}

// applyProviderOverrides layers a command-specific provider/model pair
// (lowest priority) under an explicit --provider flag value (highest
// priority) onto cfg.
func applyProviderOverrides(cfg *config.Config, provider, model, providerFlag string) error {
	cfg.ApplyOverrides(provider, model)

	if providerFlag == "" {
		return nil
	}

	overrideProvider, overrideModel, err := parseProviderModel(providerFlag, cfg)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(overrideProvider, overrideModel)
	return nil
}
