package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigLoader handles loading auxiliary files referenced by the configuration
type ConfigLoader struct {
	configDir string
}

// NewConfigLoader creates a new config loader with the specified directory
func NewConfigLoader(configDir string) *ConfigLoader {
	return &ConfigLoader{
		configDir: configDir,
	}
}

// LoadAccessPolicy loads the least-privilege expectations file
func (c *ConfigLoader) LoadAccessPolicy(filename string) (*AccessPolicyConfig, error) {
	var config AccessPolicyConfig
	err := c.loadYAMLFile(filename, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to load access policy: %w", err)
	}
	return &config, nil
}

// LoadBootstrapPayload reads the instance bootstrap script as opaque bytes.
// An empty filename yields an empty payload; a named file must exist.
func (c *ConfigLoader) LoadBootstrapPayload(filename string) ([]byte, error) {
	if filename == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.resolve(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap payload %s: %w", filename, err)
	}
	return data, nil
}

func (c *ConfigLoader) resolve(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(c.configDir, filename)
}

// loadYAMLFile loads and unmarshals a YAML file into the provided structure
func (c *ConfigLoader) loadYAMLFile(filename string, target interface{}) error {
	filePath := c.resolve(filename)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	err = yaml.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", filePath, err)
	}

	return nil
}

// AccessPolicyConfig represents the access policy file structure
type AccessPolicyConfig struct {
	Expectations []ExpectationConfig `yaml:"expectations"`
	// AdminPorts are ports that must never be open to any IPv4 source.
	AdminPorts []int `yaml:"admin_ports"`
	// AllowPublicAdmin lists policies exempt from the admin-port check.
	AllowPublicAdmin []string `yaml:"allow_public_admin"`
}

// ExpectationConfig states which sources a policy may admit on a port
type ExpectationConfig struct {
	Policy   string   `yaml:"policy"`
	Protocol string   `yaml:"protocol"`
	Port     int      `yaml:"port"`
	Sources  []string `yaml:"sources"`
}
