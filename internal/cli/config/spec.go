package config

import "fmt"

// CLIConfig is the configuration for rowcache-cli.
type CLIConfig struct {
	DefaultServer string `yaml:"default_server"`
	DefaultOutput string `yaml:"default_output"` // table, json, yaml

	// APIKey is stored in plain text; the file is written 0600.
	APIKey string `yaml:"api_key,omitempty"`
}

// Default CLI settings.
const (
	DefaultServer = "http://127.0.0.1:8380"
	DefaultOutput = "table"
)

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultServer: DefaultServer,
		DefaultOutput: DefaultOutput,
	}
}

// Merge returns a copy of cfg with every non-empty field of override
// applied.
func Merge(cfg *CLIConfig, override CLIConfig) *CLIConfig {
	out := *cfg
	if override.DefaultServer != "" {
		out.DefaultServer = override.DefaultServer
	}
	if override.DefaultOutput != "" {
		out.DefaultOutput = override.DefaultOutput
	}
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	return &out
}

// Set assigns one setting by its file key.
func (c *CLIConfig) Set(key, value string) error {
	switch key {
	case "default_server":
		c.DefaultServer = value
	case "default_output":
		switch value {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("default_output must be table, json or yaml, got %q", value)
		}
		c.DefaultOutput = value
	case "api_key":
		c.APIKey = value
	default:
		return fmt.Errorf("unknown setting %q (want default_server, default_output or api_key)", key)
	}
	return nil
}
