package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached OAuth metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute

	// maxResponseSize bounds metadata, registration and token responses (1MB).
	maxResponseSize = 1 << 20
)

// metadataCacheEntry holds cached OAuth metadata with its timestamp.
type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// TokenError is returned when the token endpoint answers with a non-200 status.
// Code and Description come from the RFC 6749 error body when present.
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("token request failed with status %d: %s (%s)", e.StatusCode, e.Code, e.Description)
		}
		return fmt.Sprintf("token request failed with status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token request failed with status %d", e.StatusCode)
}

// Client handles OAuth 2.1 protocol operations for a public client:
// metadata discovery, dynamic client registration, code exchange and refresh.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// Metadata cache with mutex for thread safety
	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// Bound of a shared metadata fetch, which outlives its first caller
	discoveryTimeout time.Duration

	// singleflight group to deduplicate concurrent metadata fetches
	metadataGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// WithDiscoveryTimeout bounds a shared metadata fetch.
func WithDiscoveryTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.discoveryTimeout = d
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,

		discoveryTimeout: DefaultHTTPTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HTTPClient returns the HTTP client used for OAuth requests.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// DiscoverMetadata fetches authorization server metadata for issuer. The
// RFC 8414 document is preferred over the OpenID Connect one; for issuers
// with a path both the path-inserted and the appended well-known forms are
// tried. Results are cached per issuer and concurrent lookups share one
// fetch, which is detached from the first caller's cancellation and bounded
// by the discovery timeout.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	if metadata, ok := c.cachedMetadata(issuer); ok {
		return metadata, nil
	}

	ch := c.metadataGroup.DoChan(issuer, func() (interface{}, error) {
		if metadata, ok := c.cachedMetadata(issuer); ok {
			return metadata, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.discoveryTimeout)
		defer cancel()
		return c.doDiscoverMetadata(fetchCtx, issuer)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Metadata), nil
	}
}

func (c *Client) cachedMetadata(issuer string) (*Metadata, bool) {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	entry, ok := c.metadataCache[issuer]
	if !ok || time.Since(entry.fetchedAt) >= c.metadataTTL {
		return nil, false
	}
	return entry.metadata, true
}

// wellKnownURLs lists the metadata locations for issuer in preference order.
func wellKnownURLs(issuer string) []string {
	u, err := url.Parse(issuer)
	if err != nil || u.Path == "" || u.Path == "/" {
		return []string{
			issuer + "/.well-known/oauth-authorization-server",
			issuer + "/.well-known/openid-configuration",
		}
	}
	origin := u.Scheme + "://" + u.Host
	return []string{
		origin + "/.well-known/oauth-authorization-server" + u.Path,
		origin + "/.well-known/openid-configuration" + u.Path,
		issuer + "/.well-known/openid-configuration",
	}
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	var errs []error
	for _, candidate := range wellKnownURLs(issuer) {
		metadata, err := c.FetchAuthorizationServerMetadata(ctx, candidate)
		if err == nil {
			c.cacheMetadata(issuer, metadata)
			return metadata, nil
		}
		c.logger.Debug("Metadata fetch failed", "url", candidate, "error", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, errors.Join(errs...))
}

// FetchAuthorizationServerMetadata fetches authorization server metadata from
// one well-known URL. The document must name both the authorization and the
// token endpoint.
func (c *Client) FetchAuthorizationServerMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	var metadata Metadata
	if err := c.getJSON(ctx, metadataURL, &metadata); err != nil {
		return nil, err
	}
	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata at %s is missing authorization_endpoint or token_endpoint", metadataURL)
	}
	return &metadata, nil
}

// FetchProtectedResourceMetadata fetches RFC 9728 protected resource metadata.
func (c *Client) FetchProtectedResourceMetadata(ctx context.Context, metadataURL string) (*ProtectedResourceMetadata, error) {
	var metadata ProtectedResourceMetadata
	if err := c.getJSON(ctx, metadataURL, &metadata); err != nil {
		return nil, err
	}
	if len(metadata.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("protected resource metadata at %s lists no authorization_servers", metadataURL)
	}
	for i, as := range metadata.AuthorizationServers {
		u, err := url.Parse(as)
		if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, fmt.Errorf("authorization server URL at index %d is not an absolute http(s) URL: %q", i, as)
		}
	}
	return &metadata, nil
}

func (c *Client) getJSON(ctx context.Context, target string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	body, err := readLimited(resp.Body)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}
	return nil
}

// cacheMetadata stores metadata in the cache.
func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	c.logger.Debug("Cached OAuth metadata",
		"issuer", issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint)
}

// RegisterClient performs RFC 7591 dynamic client registration.
func (c *Client) RegisterClient(ctx context.Context, registrationEndpoint string, reg *ClientRegistrationRequest) (*ClientRegistrationResponse, error) {
	payload, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("Client registration failed",
			"status", resp.StatusCode,
			"endpoint", registrationEndpoint)
		return nil, fmt.Errorf("registration request failed with status %d", resp.StatusCode)
	}

	var registered ClientRegistrationResponse
	if err := json.Unmarshal(body, &registered); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if registered.ClientID == "" {
		return nil, fmt.Errorf("registration response did not include a client_id")
	}

	return &registered, nil
}

// ExchangeCode exchanges an authorization code for tokens.
// No client secret is sent; the code verifier binds the exchange.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, clientID, codeVerifier string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {codeVerifier},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// RefreshToken obtains a new access token using a refresh token.
func (c *Client) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// doTokenRequest performs a token endpoint request.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		tokenErr := &TokenError{StatusCode: resp.StatusCode}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			tokenErr.Code = oauthErr.Error
			tokenErr.Description = oauthErr.ErrorDescription
		}
		c.logger.Debug("Token request failed",
			"status", resp.StatusCode,
			"error", tokenErr.Code)
		return nil, tokenErr
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response did not include an access_token")
	}

	return &token, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response exceeds maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}
