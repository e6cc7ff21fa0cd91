package app

import (
	"mcpgate/internal/config"
)

// Config holds the runtime settings that come from the command line.
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// ConfigPath is the directory holding config.yaml.
	ConfigPath string

	// Watch reloads service descriptors when config.yaml changes.
	Watch bool

	// GateConfig is filled during bootstrap.
	GateConfig *config.Config
}

// NewConfig creates a new application configuration.
func NewConfig(debug bool, configPath string, watch bool) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Watch:      watch,
	}
}
