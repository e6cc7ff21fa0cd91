// Package oauth brokers upstream OAuth 2.1 credentials for the services
// mcpgate proxies.
//
// A Broker runs the authorization code flow with PKCE (S256) on behalf of a
// user: it discovers the authorization server of a service, registers itself
// as a public client when no client_id is configured, hands out the
// authorization URL and redeems the code delivered to the callback Handler.
// Tokens are kept in a tokenstore.Store keyed by service name and refreshed
// on demand or ahead of expiry.
//
// # Discovery
//
// Endpoints come from the service's explicit provider configuration when it
// names both the authorization and token endpoint. Otherwise the broker
// sends an unauthenticated MCP initialize request and follows the
// resource_metadata parameter of the 401 challenge (RFC 9728) to the first
// listed authorization server. When that fails it tries RFC 8414 and then
// OpenID Connect discovery at the service origin.
//
// # Sessions
//
// Every authorization attempt is a single use AuthSession keyed by a random
// state value. Sessions expire after ten minutes and are consumed by the
// first callback that names them, successful or not.
//
// # Refresh
//
// Concurrent refreshes of one service share a single token request through
// RefreshCoordinator. A refresh the provider rejects removes the stored
// record, so the next request reports the service as unauthorized.
//
// # Security
//
// Secrets are never logged: code verifiers are held in RedactedToken, ids are
// truncated, and callback pages are served with restrictive security
// headers.
package oauth
