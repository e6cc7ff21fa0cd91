package config

import "time"

const (
	// DefaultOAuthCallbackPath is the default path for OAuth callbacks
	DefaultOAuthCallbackPath = "/oauth/callback"

	// DefaultServicesEnv is the environment variable read for extra service descriptors.
	DefaultServicesEnv = "MCP_SERVERS"

	DefaultPort              = 8090
	DefaultHost              = "localhost"
	DefaultClientName        = "mcpgate"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultStreamIdleTimeout = 5 * time.Minute
	DefaultRefreshInterval   = time.Minute
)

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			CallbackPath: DefaultOAuthCallbackPath,
		},
		Tokens: TokenStoreConfig{
			Backend: TokenBackendMemory,
		},
		Proxy: ProxyConfig{
			RequestTimeout:    DefaultRequestTimeout,
			StreamIdleTimeout: DefaultStreamIdleTimeout,
		},
		OAuth: OAuthConfig{
			ClientName:      DefaultClientName,
			RefreshInterval: DefaultRefreshInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		ServicesEnv: DefaultServicesEnv,
	}
}
