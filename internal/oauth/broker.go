package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mcpgate/internal/registry"
	"mcpgate/internal/tokenstore"
	pkgoauth "mcpgate/pkg/oauth"
	"mcpgate/pkg/logging"
)

// ServiceLookup resolves a service name to its descriptor.
type ServiceLookup interface {
	Lookup(name string) (registry.ServiceDescriptor, error)
}

// BrokerOptions configures a Broker. Registry, Store and RedirectURI are required.
type BrokerOptions struct {
	Registry    ServiceLookup
	Store       tokenstore.Store
	Sessions    *SessionRegistry
	Refresher   *RefreshCoordinator
	Client      *pkgoauth.Client
	RedirectURI string
	ClientName  string
	Now         func() time.Time
}

// Broker obtains, stores and refreshes upstream OAuth tokens per service.
type Broker struct {
	registry    ServiceLookup
	store       tokenstore.Store
	sessions    *SessionRegistry
	refresher   *RefreshCoordinator
	client      *pkgoauth.Client
	redirectURI string
	clientName  string
	now         func() time.Time
}

// ServiceStatus is the authorization summary reported for a service.
type ServiceStatus struct {
	IsAuthorized bool   `json:"isAuthorized"`
	HasToken     bool   `json:"hasToken"`
	IsProxy      bool   `json:"isProxy"`
	TargetURL    string `json:"targetUrl,omitempty"`
}

// NewBroker creates a Broker. Missing optional collaborators get defaults.
func NewBroker(opts BrokerOptions) (*Broker, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("broker requires a service registry")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("broker requires a token store")
	}
	if opts.RedirectURI == "" {
		return nil, fmt.Errorf("broker requires a redirect URI")
	}

	b := &Broker{
		registry:    opts.Registry,
		store:       opts.Store,
		sessions:    opts.Sessions,
		refresher:   opts.Refresher,
		client:      opts.Client,
		redirectURI: opts.RedirectURI,
		clientName:  opts.ClientName,
		now:         opts.Now,
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.sessions == nil {
		b.sessions = NewSessionRegistry(WithSessionClock(b.now))
	}
	if b.refresher == nil {
		b.refresher = NewRefreshCoordinator(0)
	}
	if b.client == nil {
		b.client = pkgoauth.NewClient(pkgoauth.WithLogger(logging.Logger()))
	}
	if b.clientName == "" {
		b.clientName = "mcpgate"
	}
	return b, nil
}

// Close releases background resources.
func (b *Broker) Close() {
	b.sessions.Stop()
}

// IsAuthorized reports whether a request to service would carry credentials.
// An expired token is refreshed on the way; an expired token that cannot be
// refreshed is discarded.
func (b *Broker) IsAuthorized(ctx context.Context, service string) bool {
	token, err := b.GetToken(ctx, service)
	if err != nil {
		logging.Debug("Broker", "Authorization check for %s failed: %v", service, err)
		return false
	}
	return token != ""
}

// GetToken returns the bearer token for service. A configured static token
// always wins. An empty token with a nil error means not authorized.
func (b *Broker) GetToken(ctx context.Context, service string) (string, error) {
	desc, err := b.registry.Lookup(service)
	if err != nil {
		return "", err
	}
	if desc.HasStaticToken() {
		return desc.AuthorizationToken, nil
	}

	rec, err := b.store.Get(ctx, service)
	switch {
	case errors.Is(err, tokenstore.ErrNotFound):
		return "", nil
	case errors.Is(err, tokenstore.ErrCorrupt):
		logging.Warn("Broker", "Discarding unreadable token record for %s", service)
		if delErr := b.store.Delete(ctx, service); delErr != nil {
			logging.Error("Broker", delErr, "Failed to delete token record for %s", service)
		}
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to read token for %s: %w", service, err)
	}

	if !rec.IsExpired(b.now()) {
		return rec.AccessToken, nil
	}

	if rec.RefreshToken == "" {
		logging.Info("Broker", "Token for %s expired and has no refresh token, discarding", service)
		if err := b.store.Delete(ctx, service); err != nil {
			logging.Error("Broker", err, "Failed to delete expired token for %s", service)
		}
		return "", nil
	}

	refreshed, err := b.refreshWithin(ctx, service, 0)
	if err != nil {
		logging.Warn("Broker", "Token refresh for %s failed: %v", service, err)
		return "", nil
	}
	return refreshed.AccessToken, nil
}

// forceRefresh makes refreshWithin skip the expiry check.
const forceRefresh time.Duration = -1

// Refresh exchanges the stored refresh token for a new access token, whatever
// its expiry. Concurrent calls for one service share a single provider request.
func (b *Broker) Refresh(ctx context.Context, service string) (*tokenstore.Record, error) {
	return b.refreshWithin(ctx, service, forceRefresh)
}

// refreshWithin refreshes the token of service if it expires within the
// given window when the shared call runs. A caller that arrives after
// another refresh already renewed the token gets the stored record back.
func (b *Broker) refreshWithin(ctx context.Context, service string, within time.Duration) (*tokenstore.Record, error) {
	return b.refresher.Do(ctx, service, func(ctx context.Context) (*tokenstore.Record, error) {
		return b.refresh(ctx, service, within)
	})
}

func (b *Broker) refresh(ctx context.Context, service string, within time.Duration) (*tokenstore.Record, error) {
	rec, err := b.store.Get(ctx, service)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: no token stored for %s", ErrRefreshUnavailable, service)
		}
		return nil, err
	}

	if within >= 0 && !rec.ExpiresWithin(b.now(), within) {
		logging.Debug("Broker", "Token for %s was already refreshed", service)
		return rec, nil
	}

	if !rec.CanRefresh() {
		if rec.RefreshToken == "" {
			return nil, fmt.Errorf("%w: no refresh token for %s", ErrRefreshUnavailable, service)
		}
		b.purge(ctx, service, "token record lacks token endpoint or client id")
		return nil, fmt.Errorf("%w: token record for %s lacks token endpoint or client id", ErrRefreshUnavailable, service)
	}

	logging.Debug("Broker", "Refreshing token for %s", service)

	resp, err := b.client.RefreshToken(ctx, rec.TokenEndpoint, rec.RefreshToken, rec.ClientID)
	if err != nil {
		b.purge(ctx, service, err.Error())
		logging.Audit(logging.AuditEvent{
			Action:  "token_refresh",
			Outcome: "failure",
			Service: service,
			Error:   err.Error(),
		})
		return nil, fmt.Errorf("%w for %s: %w", ErrRefreshFailed, service, err)
	}

	now := b.now()
	rec.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		rec.RefreshToken = resp.RefreshToken
	}
	rec.ExpiresAt = resp.ExpiresAt(now)
	if resp.TokenType != "" {
		rec.TokenType = resp.TokenType
	}
	if resp.Scope != "" {
		rec.Scope = resp.Scope
	}
	rec.IssuedAt = now
	rec.RefreshedAt = now

	if err := b.store.Set(ctx, service, rec); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token for %s: %w", service, err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "token_refresh",
		Outcome: "success",
		Service: service,
	})
	return rec, nil
}

func (b *Broker) purge(ctx context.Context, service, reason string) {
	logging.Warn("Broker", "Removing token for %s: %s", service, reason)
	if err := b.store.Delete(ctx, service); err != nil {
		logging.Error("Broker", err, "Failed to delete token for %s", service)
	}
}

// RefreshExpiring refreshes every stored token that expires within the
// given window and returns the services that were refreshed.
func (b *Broker) RefreshExpiring(ctx context.Context, within time.Duration) ([]string, error) {
	names, err := b.store.ListServiceNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored tokens: %w", err)
	}

	now := b.now()
	var refreshed []string
	var errs []error
	for _, name := range names {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		rec, err := b.store.Get(ctx, name)
		if err != nil {
			continue
		}
		if rec.RefreshToken == "" || !rec.ExpiresWithin(now, within) {
			continue
		}

		if _, err := b.refreshWithin(ctx, name, within); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		refreshed = append(refreshed, name)
	}

	if len(refreshed) > 0 {
		logging.Info("Broker", "Proactively refreshed %d token(s)", len(refreshed))
	}
	return refreshed, errors.Join(errs...)
}

// Status summarizes the authorization state of service.
func (b *Broker) Status(ctx context.Context, service string) (ServiceStatus, error) {
	desc, err := b.registry.Lookup(service)
	if err != nil {
		return ServiceStatus{}, err
	}

	status := ServiceStatus{
		IsProxy:   desc.Proxy,
		TargetURL: desc.URL,
	}

	if desc.HasStaticToken() {
		status.HasToken = true
		status.IsAuthorized = true
		return status, nil
	}

	// IsAuthorized may refresh or discard the record, so look it up afterwards.
	status.IsAuthorized = b.IsAuthorized(ctx, service)
	if _, err := b.store.Get(ctx, service); err == nil {
		status.HasToken = true
	}
	return status, nil
}

// Revoke forgets the stored token for service. The provider is not contacted.
func (b *Broker) Revoke(ctx context.Context, service string) error {
	if _, err := b.registry.Lookup(service); err != nil {
		return err
	}
	if err := b.store.Delete(ctx, service); err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", service, err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "token_revoke",
		Outcome: "success",
		Service: service,
	})
	return nil
}
