package webapp

import (
	"fmt"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/pkg/policy"
)

// LoadSettings reads the bootstrap script named by the configuration and
// returns the stack settings.
func LoadSettings(cfg *config.Config, loader *config.ConfigLoader) (Settings, error) {
	bootstrap, err := loader.LoadBootstrapPayload(cfg.Stack.BootstrapScript)
	if err != nil {
		return Settings{}, err
	}
	return SettingsFromConfig(cfg, bootstrap), nil
}

// LoadIntent returns the access policy expectations from the configured
// file, falling back to the expectations derived from s.
func LoadIntent(cfg *config.Config, loader *config.ConfigLoader, s Settings) (*policy.Intent, error) {
	if cfg.Policy.ExpectationsFile == "" {
		return s.Expectations(), nil
	}

	accessPolicy, err := loader.LoadAccessPolicy(cfg.Policy.ExpectationsFile)
	if err != nil {
		return nil, err
	}
	intent, err := policy.IntentFromConfig(accessPolicy)
	if err != nil {
		return nil, fmt.Errorf("invalid access policy %s: %w", cfg.Policy.ExpectationsFile, err)
	}
	return intent, nil
}
