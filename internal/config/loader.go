package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"mcpgate/internal/registry"
	"mcpgate/pkg/logging"
)

const (
	userConfigDir  = ".config/mcpgate"
	configFileName = "config.yaml"
	tokenSubdir    = "tokens"
)

// Environment variables that override file settings.
const (
	EnvPublicURL   = "MCPGATE_PUBLIC_URL"
	EnvPort        = "MCPGATE_PORT"
	EnvTokenSecret = "MCPGATE_TOKEN_SECRET"
	EnvTokenDir    = "MCPGATE_TOKEN_DIR"
)

// lookupEnv is swapped in tests.
var lookupEnv = os.LookupEnv

// GetDefaultConfigPath returns ~/.config/mcpgate.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// ConfigFilePath returns the config.yaml path inside configPath.
func ConfigFilePath(configPath string) string {
	return filepath.Join(configPath, configFileName)
}

// LoadConfig loads configuration from the config.yaml in configPath.
// Defaults apply first, then the file, then environment overrides, then the
// service descriptors from the ServicesEnv variable are appended.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := ConfigFilePath(configPath)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, NewConfigurationErrorCollection().
				With(NewConfigurationError(configFilePath, "", "parse", err.Error()))
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return Config{}, err
	}

	if config.Tokens.Backend == TokenBackendFile && config.Tokens.Dir == "" {
		config.Tokens.Dir = filepath.Join(configPath, tokenSubdir)
	}

	if config.ServicesEnv != "" {
		if raw, ok := lookupEnv(config.ServicesEnv); ok && raw != "" {
			extra, err := registry.ParseDescriptors([]byte(raw))
			if err != nil {
				return Config{}, NewConfigurationErrorCollection().
					With(NewConfigurationError("$"+config.ServicesEnv, "services", "parse", err.Error()))
			}
			config.Services = append(config.Services, extra...)
			logging.Info("Config", "Loaded %d service descriptors from $%s", len(extra), config.ServicesEnv)
		}
	}

	if err := config.Validate(configFilePath); err != nil {
		return Config{}, err
	}

	return config, nil
}

func applyEnvOverrides(config *Config) error {
	if v, ok := lookupEnv(EnvPublicURL); ok && v != "" {
		config.Server.PublicURL = v
	}
	if v, ok := lookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		config.Server.Port = port
	}
	if v, ok := lookupEnv(EnvTokenSecret); ok && v != "" {
		config.Tokens.Secret = v
	}
	if v, ok := lookupEnv(EnvTokenDir); ok && v != "" {
		config.Tokens.Dir = v
	}
	return nil
}
