package registry

import (
	"fmt"
	"net/url"
	"strings"
)

// TransportType is the wire transport a service speaks.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
)

// OAuthProviderConfig is an explicit OAuth provider configuration for a
// service. Any field left empty is discovered.
type OAuthProviderConfig struct {
	Issuer                string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	AuthorizationEndpoint string `yaml:"authorization_endpoint,omitempty" json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `yaml:"token_endpoint,omitempty" json:"token_endpoint,omitempty"`
	RegistrationEndpoint  string `yaml:"registration_endpoint,omitempty" json:"registration_endpoint,omitempty"`
	ClientID              string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	Scope                 string `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// HasEndpoints reports whether discovery can be skipped entirely.
func (c *OAuthProviderConfig) HasEndpoints() bool {
	return c != nil && c.AuthorizationEndpoint != "" && c.TokenEndpoint != ""
}

// ServiceDescriptor describes one upstream MCP server. Descriptors are read
// only; a reload replaces them wholesale.
type ServiceDescriptor struct {
	Name               string               `yaml:"name" json:"name"`
	Type               TransportType        `yaml:"type" json:"type"`
	URL                string               `yaml:"url,omitempty" json:"url,omitempty"`
	Command            string               `yaml:"command,omitempty" json:"command,omitempty"`
	AuthorizationToken string               `yaml:"authorization_token,omitempty" json:"authorization_token,omitempty"`
	OAuth              *OAuthProviderConfig `yaml:"oauth_provider_configuration,omitempty" json:"oauth_provider_configuration,omitempty"`
	Proxy              bool                 `yaml:"proxy,omitempty" json:"proxy,omitempty"`
}

// HasStaticToken reports whether the service authenticates with a configured
// bearer token. Such services never enter the OAuth flow.
func (d ServiceDescriptor) HasStaticToken() bool {
	return d.AuthorizationToken != ""
}

// IsRemote reports whether the service is reached over HTTP.
func (d ServiceDescriptor) IsRemote() bool {
	return d.Type == TransportHTTP || d.Type == TransportSSE
}

// Validate checks a single descriptor.
func (d ServiceDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.ContainsAny(d.Name, " /?#") {
		return fmt.Errorf("service %q: name cannot contain spaces, '/', '?' or '#'", d.Name)
	}

	switch d.Type {
	case TransportStdio:
		if d.Command == "" {
			return fmt.Errorf("service %q: command is required for stdio transport", d.Name)
		}
		if d.Proxy {
			return fmt.Errorf("service %q: stdio services cannot be proxied", d.Name)
		}
	case TransportHTTP, TransportSSE:
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("service %q: url must be an absolute http(s) URL", d.Name)
		}
	default:
		return fmt.Errorf("service %q: unknown transport type %q", d.Name, d.Type)
	}
	return nil
}

// Redacted returns a copy safe to show to clients: the static token is
// masked and the presence of OAuth configuration is kept.
func (d ServiceDescriptor) Redacted() ServiceDescriptor {
	if d.AuthorizationToken != "" {
		d.AuthorizationToken = "[REDACTED]"
	}
	if d.OAuth != nil {
		oauth := *d.OAuth
		d.OAuth = &oauth
	}
	return d
}
