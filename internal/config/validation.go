package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
}

// Validate checks the loaded configuration. filePath is only used to label
// the returned errors. It returns nil or a *ConfigurationErrorCollection.
func (c Config) Validate(filePath string) error {
	errs := NewConfigurationErrorCollection()
	add := func(field, message string, suggestions ...string) {
		errs.Add(ConfigurationError{
			FilePath:    filePath,
			Field:       field,
			ErrorType:   "validation",
			Message:     message,
			Suggestions: suggestions,
		})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", fmt.Sprintf("port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.CallbackPath, "/") {
		add("server.callbackPath", "must start with '/'")
	}
	if c.Server.PublicURL != "" {
		if u, err := url.Parse(c.Server.PublicURL); err != nil || !u.IsAbs() || u.Host == "" {
			add("server.publicURL", "must be an absolute URL", "e.g. https://mcpgate.example.com")
		}
	}

	if err := ValidateOneOf(string(c.Tokens.Backend), []string{string(TokenBackendMemory), string(TokenBackendFile)}); err != nil {
		add("tokens.backend", err.Error())
	}
	if c.Tokens.Backend == TokenBackendFile && c.Tokens.Secret == "" {
		add("tokens.secret", "is required for the file backend",
			fmt.Sprintf("set %s in the environment", EnvTokenSecret))
	}

	if c.Proxy.RequestTimeout <= 0 {
		add("proxy.requestTimeout", "must be positive")
	}
	if c.Proxy.StreamIdleTimeout <= 0 {
		add("proxy.streamIdleTimeout", "must be positive")
	}
	if c.OAuth.RefreshInterval <= 0 {
		add("oauth.refreshInterval", "must be positive")
	}

	if err := ValidateOneOf(c.Logging.Format, []string{"text", "json"}); err != nil {
		add("logging.format", err.Error())
	}

	seen := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		field := fmt.Sprintf("services[%d]", i)
		if err := svc.Validate(); err != nil {
			add(field, err.Error())
			continue
		}
		if seen[svc.Name] {
			add(field, fmt.Sprintf("duplicate service name %q", svc.Name), "service names must be unique")
		}
		seen[svc.Name] = true
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
