package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"mcpgate/internal/registry"
)

// Config is the top-level configuration structure for mcpgate.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Tokens   TokenStoreConfig `yaml:"tokens"`
	Proxy    ProxyConfig      `yaml:"proxy"`
	OAuth    OAuthConfig      `yaml:"oauth"`
	Logging  LoggingConfig    `yaml:"logging"`
	Services []registry.ServiceDescriptor `yaml:"services,omitempty"`

	// ServicesEnv names an environment variable holding a JSON or YAML list
	// of additional service descriptors.
	ServicesEnv string `yaml:"servicesEnv,omitempty"`
}

// ServerConfig configures the HTTP edge.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port to listen on (default: 8090)

	// PublicURL is the externally reachable base URL. It is used for the
	// OAuth redirect URI and for rewritten SSE endpoints. Defaults to
	// http://host:port.
	PublicURL string `yaml:"publicURL,omitempty"`

	CallbackPath string `yaml:"callbackPath,omitempty"` // OAuth callback path (default: /oauth/callback)

	// AuthErrorRedirect is where the browser is sent when the callback fails.
	// An HTML error page is rendered when empty.
	AuthErrorRedirect string `yaml:"authErrorRedirect,omitempty"`
}

// ListenAddr returns the host:port the server binds to.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BaseURL returns the public base URL without a trailing slash.
func (s ServerConfig) BaseURL() string {
	if s.PublicURL != "" {
		return strings.TrimSuffix(s.PublicURL, "/")
	}
	return fmt.Sprintf("http://%s", s.ListenAddr())
}

// RedirectURI returns the absolute OAuth redirect URI.
func (s ServerConfig) RedirectURI() string {
	return s.BaseURL() + s.CallbackPath
}

// TokenBackend selects the token store implementation.
type TokenBackend string

const (
	TokenBackendMemory TokenBackend = "memory"
	TokenBackendFile   TokenBackend = "file"
)

// TokenStoreConfig configures token persistence.
type TokenStoreConfig struct {
	Backend TokenBackend `yaml:"backend,omitempty"` // memory (default) or file
	Dir     string       `yaml:"dir,omitempty"`     // Directory for the file backend (default: <config-path>/tokens)

	// Secret is the key material for file encryption. Prefer setting it via
	// MCPGATE_TOKEN_SECRET rather than in the file.
	Secret string `yaml:"secret,omitempty"`
}

// ProxyConfig configures request forwarding.
type ProxyConfig struct {
	RequestTimeout    time.Duration `yaml:"requestTimeout,omitempty"`    // Unary upstream call timeout (default: 60s)
	StreamIdleTimeout time.Duration `yaml:"streamIdleTimeout,omitempty"` // Stream inactivity timeout (default: 5m)
}

// OAuthConfig configures the token broker.
type OAuthConfig struct {
	ClientName      string        `yaml:"clientName,omitempty"`      // Name used for dynamic client registration
	RefreshInterval time.Duration `yaml:"refreshInterval,omitempty"` // How often expiring tokens are refreshed (default: 1m)
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}
