// Package oauth provides the OAuth 2.1 public-client primitives used by the
// mcpgate token broker.
//
// # Core Components
//
//   - Metadata: authorization server metadata (RFC 8414 / OIDC discovery)
//   - ProtectedResourceMetadata: resource metadata (RFC 9728)
//   - AuthChallenge: parsed WWW-Authenticate header information
//   - PKCE: verifier and S256 challenge generation (RFC 7636)
//   - Client: discovery, dynamic client registration (RFC 7591), code
//     exchange and refresh
//
// Token endpoint calls are plain form POSTs without a client secret:
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient))
//	metadata, err := client.DiscoverMetadata(ctx, issuer)
//	token, err := client.ExchangeCode(ctx, metadata.TokenEndpoint, code, redirectURI, clientID, verifier)
package oauth
