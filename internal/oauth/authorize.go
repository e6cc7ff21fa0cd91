package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"mcpgate/internal/jsonrpc"
	"mcpgate/internal/registry"
	"mcpgate/internal/tokenstore"
	pkgoauth "mcpgate/pkg/oauth"
	"mcpgate/pkg/logging"
)

// CallbackParams carries the query parameters of an authorization redirect.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// InitiateAuthorization starts an authorization code + PKCE flow for service
// and returns the URL the user has to visit.
func (b *Broker) InitiateAuthorization(ctx context.Context, service string) (string, error) {
	desc, err := b.registry.Lookup(service)
	if err != nil {
		return "", err
	}
	if desc.HasStaticToken() {
		return "", ErrAlreadyAuthorized
	}
	if !desc.IsRemote() {
		return "", fmt.Errorf("%w: service %s uses %s transport", ErrDiscoveryFailed, service, desc.Type)
	}

	metadata, scopes, err := b.resolveEndpoints(ctx, desc)
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "authorization_start",
			Outcome: "failure",
			Service: service,
			Error:   err.Error(),
		})
		return "", err
	}
	if !metadata.SupportsPKCE() {
		err := fmt.Errorf("%w: authorization server for %s does not support S256 PKCE (advertises %v)",
			ErrDiscoveryFailed, service, metadata.CodeChallengeMethodsSupported)
		logging.Audit(logging.AuditEvent{
			Action:  "authorization_start",
			Outcome: "failure",
			Service: service,
			Error:   err.Error(),
		})
		return "", err
	}

	scope := strings.Join(scopes, " ")
	clientID := ""
	if desc.OAuth != nil {
		clientID = desc.OAuth.ClientID
	}
	if clientID == "" {
		clientID, err = b.registerClient(ctx, metadata, scope)
		if err != nil {
			return "", err
		}
	}

	client := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   metadata.AuthorizationEndpoint,
			TokenURL:  metadata.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: b.redirectURI,
		Scopes:      scopes,
	}

	pkce := pkgoauth.GeneratePKCE()
	state, err := b.sessions.Create(service, client, pkce.CodeVerifier)
	if err != nil {
		return "", err
	}

	logging.Audit(logging.AuditEvent{
		Action:  "authorization_start",
		Outcome: "success",
		Service: service,
		Details: fmt.Sprintf("issuer=%s client_id=%s", metadata.Issuer, logging.TruncateID(clientID)),
	})

	return client.AuthCodeURL(state, oauth2.S256ChallengeOption(pkce.CodeVerifier)), nil
}

// resolveEndpoints merges the explicit provider configuration with whatever
// discovery finds. Explicit values always win.
func (b *Broker) resolveEndpoints(ctx context.Context, desc registry.ServiceDescriptor) (*pkgoauth.Metadata, []string, error) {
	explicit := desc.OAuth
	var scopes []string
	if explicit != nil && explicit.Scope != "" {
		scopes = strings.Fields(explicit.Scope)
	}

	if explicit.HasEndpoints() {
		logging.Debug("Broker", "Using configured OAuth endpoints for %s", desc.Name)
		return overlay(&pkgoauth.Metadata{}, explicit), scopes, nil
	}

	var (
		metadata *pkgoauth.Metadata
		err      error
	)
	if explicit != nil && explicit.Issuer != "" {
		metadata, err = b.client.DiscoverMetadata(ctx, explicit.Issuer)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
		}
	} else {
		var discoveredScopes []string
		metadata, discoveredScopes, err = b.discover(ctx, desc)
		if err != nil {
			return nil, nil, err
		}
		if len(scopes) == 0 {
			scopes = discoveredScopes
		}
	}

	// Copy before overlaying; discovered metadata is shared through the cache.
	merged := *metadata
	return overlay(&merged, explicit), scopes, nil
}

func overlay(m *pkgoauth.Metadata, explicit *registry.OAuthProviderConfig) *pkgoauth.Metadata {
	if explicit == nil {
		return m
	}
	if explicit.Issuer != "" {
		m.Issuer = explicit.Issuer
	}
	if explicit.AuthorizationEndpoint != "" {
		m.AuthorizationEndpoint = explicit.AuthorizationEndpoint
	}
	if explicit.TokenEndpoint != "" {
		m.TokenEndpoint = explicit.TokenEndpoint
	}
	if explicit.RegistrationEndpoint != "" {
		m.RegistrationEndpoint = explicit.RegistrationEndpoint
	}
	return m
}

// discover locates authorization server metadata for a service that has no
// explicit configuration. The protected resource challenge is tried first,
// then the well-known documents at the service origin.
func (b *Broker) discover(ctx context.Context, desc registry.ServiceDescriptor) (*pkgoauth.Metadata, []string, error) {
	var errs []error

	challenge, err := b.probe(ctx, desc.URL)
	if err != nil {
		logging.Debug("Broker", "Discovery probe for %s failed: %v", desc.Name, err)
		errs = append(errs, err)
	}

	if challenge != nil && challenge.ResourceMetadataURL != "" {
		prm, err := b.client.FetchProtectedResourceMetadata(ctx, challenge.ResourceMetadataURL)
		if err == nil {
			metadata, err := b.client.DiscoverMetadata(ctx, prm.AuthorizationServers[0])
			if err == nil {
				logging.Debug("Broker", "Discovered authorization server %s for %s via resource metadata",
					prm.AuthorizationServers[0], desc.Name)
				scopes := prm.ScopesSupported
				if challenge.Scope != "" {
					scopes = strings.Fields(challenge.Scope)
				}
				return metadata, scopes, nil
			}
			errs = append(errs, err)
		} else {
			errs = append(errs, err)
		}
	}

	origin, err := originOf(desc.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	metadata, err := b.client.DiscoverMetadata(ctx, origin)
	if err == nil {
		logging.Debug("Broker", "Discovered authorization server metadata for %s at %s", desc.Name, origin)
		var scopes []string
		if challenge != nil && challenge.Scope != "" {
			scopes = strings.Fields(challenge.Scope)
		}
		return metadata, scopes, nil
	}
	errs = append(errs, err)

	return nil, nil, fmt.Errorf("%w for %s: %w", ErrDiscoveryFailed, desc.Name, errors.Join(errs...))
}

// probe sends an unauthenticated initialize request and returns the
// challenge from a 401 answer, if any.
func (b *Broker) probe(ctx context.Context, target string) (*pkgoauth.AuthChallenge, error) {
	env, err := jsonrpc.NewInitialize()
	if err != nil {
		return nil, err
	}
	body, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := b.client.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return pkgoauth.ParseWWWAuthenticateFromResponse(resp), nil
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("service url %q is not absolute", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (b *Broker) registerClient(ctx context.Context, metadata *pkgoauth.Metadata, scope string) (string, error) {
	if metadata.RegistrationEndpoint == "" {
		return "", fmt.Errorf("%w: no client_id configured and the authorization server offers no registration endpoint", ErrRegistrationFailed)
	}

	reg := pkgoauth.NewPublicClientRegistration(b.clientName, b.redirectURI, scope)
	resp, err := b.client.RegisterClient(ctx, metadata.RegistrationEndpoint, reg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	logging.Info("Broker", "Registered OAuth client %s at %s", logging.TruncateID(resp.ClientID), metadata.RegistrationEndpoint)
	return resp.ClientID, nil
}

// HandleCallback completes an authorization flow. The session is consumed
// whatever the outcome. It returns the service the session belonged to,
// when known.
func (b *Broker) HandleCallback(ctx context.Context, params CallbackParams) (string, error) {
	session, ok := b.sessions.Consume(params.State)
	if !ok {
		logging.Audit(logging.AuditEvent{
			Action:  "authorization_callback",
			Outcome: "failure",
			Error:   ErrInvalidSession.Error(),
		})
		return "", ErrInvalidSession
	}
	service := session.Service

	if params.Error != "" {
		err := &OAuthError{Code: params.Error, Description: params.ErrorDescription}
		logging.Audit(logging.AuditEvent{
			Action:  "authorization_callback",
			Outcome: "failure",
			Service: service,
			Error:   err.Error(),
		})
		return service, err
	}
	if params.Code == "" {
		return service, fmt.Errorf("%w: callback carried no authorization code", ErrTokenExchangeFailed)
	}

	client := session.Client
	resp, err := b.client.ExchangeCode(ctx, client.Endpoint.TokenURL, params.Code, client.RedirectURL,
		client.ClientID, session.CodeVerifier.Value())
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "authorization_callback",
			Outcome: "failure",
			Service: service,
			Error:   err.Error(),
		})
		return service, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	now := b.now()
	rec := &tokenstore.Record{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpiresAt:     resp.ExpiresAt(now),
		TokenType:     resp.TokenType,
		Scope:         resp.Scope,
		TokenEndpoint: client.Endpoint.TokenURL,
		ClientID:      client.ClientID,
		IssuedAt:      now,
	}
	if err := b.store.Set(ctx, service, rec); err != nil {
		return service, fmt.Errorf("failed to store token for %s: %w", service, err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "authorization_callback",
		Outcome: "success",
		Service: service,
	})
	return service, nil
}
