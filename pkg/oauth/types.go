package oauth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenRefreshThreshold is the duration before token expiry when tokens should be proactively refreshed.
// The maintenance loop refreshes every stored token expiring within this window.
const TokenRefreshThreshold = 5 * time.Minute

// Metadata represents OAuth 2.0 Authorization Server Metadata as defined in RFC 8414.
type Metadata struct {
	// Issuer is the authorization server's issuer identifier.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the URL for dynamic client registration.
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// ScopesSupported lists the OAuth 2.0 scope values supported.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the response_type values supported.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`

	// GrantTypesSupported lists the grant types supported.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods.
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	// If not specified, assume S256 is supported (OAuth 2.1 requirement)
	return len(m.CodeChallengeMethodsSupported) == 0
}

// ProtectedResourceMetadata represents OAuth 2.0 Protected Resource Metadata
// as defined in RFC 9728.
type ProtectedResourceMetadata struct {
	// Resource is the protected resource identifier.
	Resource string `json:"resource"`

	// AuthorizationServers lists the issuers that can authorize access to the resource.
	AuthorizationServers []string `json:"authorization_servers"`

	// ScopesSupported lists the OAuth scopes supported by this resource.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// BearerMethodsSupported indicates how bearer tokens can be presented.
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// AuthChallenge represents parsed information from a WWW-Authenticate header.
type AuthChallenge struct {
	// Scheme is the authentication scheme (typically "Bearer" for OAuth 2.0).
	Scheme string

	// Realm is the protection realm (often the authorization server name or URL).
	Realm string

	// Issuer is the OAuth/OIDC issuer URL, derived from the realm when it is a URL.
	Issuer string

	// ResourceMetadataURL is the URL to the protected resource metadata (RFC 9728).
	ResourceMetadataURL string

	// Scope is the space-separated list of required OAuth scopes.
	Scope string

	// Error is the error code from the WWW-Authenticate header (if any).
	Error string

	// ErrorDescription is a human-readable error description (if any).
	ErrorDescription string
}

// IsOAuthChallenge returns true if this represents an OAuth authentication challenge.
func (c *AuthChallenge) IsOAuthChallenge() bool {
	if c == nil {
		return false
	}
	if !strings.EqualFold(c.Scheme, "Bearer") {
		return false
	}
	return c.Realm != "" || c.ResourceMetadataURL != "" || c.Issuer != ""
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) pair.
type PKCEChallenge struct {
	// CodeVerifier is kept secret and only sent to the token endpoint.
	CodeVerifier string

	// CodeChallenge is the base64url SHA256 of the verifier, sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// ClientRegistrationRequest is the RFC 7591 dynamic client registration payload.
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// NewPublicClientRegistration builds a registration request for a public
// client using authorization code + PKCE with no client secret.
func NewPublicClientRegistration(clientName, redirectURI, scope string) *ClientRegistrationRequest {
	return &ClientRegistrationRequest{
		ClientName:              clientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   scope,
	}
}

// ClientRegistrationResponse is the subset of the RFC 7591 response we use.
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// TokenResponse is the token endpoint payload. Fields not listed here are
// dropped on decode.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExpiresAt returns the absolute expiry of the access token relative to issuedAt.
// When the provider omitted expires_in and the access token is a JWT, the exp
// claim is used. A zero time means the token carries no expiry.
func (t *TokenResponse) ExpiresAt(issuedAt time.Time) time.Time {
	if t.ExpiresIn > 0 {
		return issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return jwtExpiry(t.AccessToken)
}

// jwtExpiry reads the exp claim of a JWT without verifying its signature.
// The token is only inspected for scheduling refreshes, never trusted.
func jwtExpiry(raw string) time.Time {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}
	}
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
