package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Run("creates client with defaults", func(t *testing.T) {
		c := NewClient()
		if c.httpClient == nil {
			t.Error("expected httpClient to be set")
		}
		if c.logger == nil {
			t.Error("expected logger to be set")
		}
		if c.metadataTTL != DefaultMetadataCacheTTL {
			t.Errorf("expected metadataTTL to be %v, got %v", DefaultMetadataCacheTTL, c.metadataTTL)
		}
	})

	t.Run("applies options", func(t *testing.T) {
		customHTTP := &http.Client{Timeout: 10 * time.Second}
		customTTL := 5 * time.Minute

		c := NewClient(
			WithHTTPClient(customHTTP),
			WithMetadataCacheTTL(customTTL),
		)

		if c.HTTPClient() != customHTTP {
			t.Error("expected custom httpClient to be set")
		}
		if c.metadataTTL != customTTL {
			t.Errorf("expected metadataTTL to be %v, got %v", customTTL, c.metadataTTL)
		}
	})
}

func testMetadata() *Metadata {
	return &Metadata{
		Issuer:                "https://issuer.example.com",
		AuthorizationEndpoint: "https://issuer.example.com/authorize",
		TokenEndpoint:         "https://issuer.example.com/token",
	}
}

func TestDiscoverMetadata(t *testing.T) {
	t.Run("discovers via RFC 8414 endpoint", func(t *testing.T) {
		metadata := testMetadata()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/.well-known/oauth-authorization-server" {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(metadata)
				return
			}
			http.NotFound(w, r)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		result, err := c.DiscoverMetadata(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.AuthorizationEndpoint != metadata.AuthorizationEndpoint {
			t.Errorf("expected auth endpoint %s, got %s", metadata.AuthorizationEndpoint, result.AuthorizationEndpoint)
		}
	})

	t.Run("falls back to OIDC endpoint", func(t *testing.T) {
		metadata := testMetadata()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/.well-known/openid-configuration" {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(metadata)
				return
			}
			http.NotFound(w, r)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		result, err := c.DiscoverMetadata(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Issuer != metadata.Issuer {
			t.Errorf("expected issuer %s, got %s", metadata.Issuer, result.Issuer)
		}
	})

	t.Run("inserts well-known before the issuer path", func(t *testing.T) {
		metadata := testMetadata()
		var paths []string
		var mu sync.Mutex
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			paths = append(paths, r.URL.Path)
			mu.Unlock()
			if r.URL.Path == "/.well-known/oauth-authorization-server/tenant1" {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(metadata)
				return
			}
			http.NotFound(w, r)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.DiscoverMetadata(context.Background(), server.URL+"/tenant1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(paths) != 1 {
			t.Errorf("expected the path-inserted document to be tried first, got %v", paths)
		}
	})

	t.Run("bounds the shared fetch", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			http.NotFound(w, r)
		}))
		defer server.Close()
		defer close(release)

		// The HTTP client has no timeout of its own.
		c := NewClient(WithHTTPClient(&http.Client{}), WithDiscoveryTimeout(50*time.Millisecond))
		start := time.Now()
		if _, err := c.DiscoverMetadata(context.Background(), server.URL); err == nil {
			t.Fatal("expected an error once the discovery timeout elapsed")
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("fetch was not bounded, took %v", elapsed)
		}
	})

	t.Run("returns error when cancelled", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
			http.NotFound(w, r)
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.DiscoverMetadata(ctx, server.URL); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("returns error when both endpoints fail", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.DiscoverMetadata(context.Background(), server.URL); err == nil {
			t.Error("expected error when discovery fails")
		}
	})

	t.Run("rejects metadata without endpoints", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"issuer":"https://issuer.example.com"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.DiscoverMetadata(context.Background(), server.URL); err == nil {
			t.Error("expected error for incomplete metadata")
		}
	})

	t.Run("caches metadata", func(t *testing.T) {
		var callCount int32
		metadata := testMetadata()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&callCount, 1)
			json.NewEncoder(w).Encode(metadata)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		for i := 0; i < 2; i++ {
			if _, err := c.DiscoverMetadata(context.Background(), server.URL); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		if atomic.LoadInt32(&callCount) != 1 {
			t.Errorf("expected 1 server call (cached), got %d", callCount)
		}
	})

	t.Run("deduplicates concurrent requests", func(t *testing.T) {
		var callCount int32
		metadata := testMetadata()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Add a small delay to ensure concurrent requests overlap
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&callCount, 1)
			json.NewEncoder(w).Encode(metadata)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.DiscoverMetadata(context.Background(), server.URL)
			}()
		}
		wg.Wait()

		if atomic.LoadInt32(&callCount) != 1 {
			t.Errorf("expected 1 server call (singleflight), got %d", callCount)
		}
	})
}

func TestFetchProtectedResourceMetadata(t *testing.T) {
	t.Run("returns metadata", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"resource":"https://mcp.example.com","authorization_servers":["https://auth.example.com"]}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		prm, err := c.FetchProtectedResourceMetadata(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(prm.AuthorizationServers) != 1 || prm.AuthorizationServers[0] != "https://auth.example.com" {
			t.Errorf("unexpected authorization servers: %v", prm.AuthorizationServers)
		}
	})

	t.Run("rejects relative authorization server", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"resource":"r","authorization_servers":["/auth"]}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.FetchProtectedResourceMetadata(context.Background(), server.URL); err == nil {
			t.Error("expected error for relative authorization server URL")
		}
	})

	t.Run("rejects empty authorization servers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"resource":"r","authorization_servers":[]}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.FetchProtectedResourceMetadata(context.Background(), server.URL); err == nil {
			t.Error("expected error for missing authorization servers")
		}
	})
}

func TestRegisterClient(t *testing.T) {
	t.Run("registers a public client", func(t *testing.T) {
		var got ClientRegistrationRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %s", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode registration: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"client_id":"dyn-client-1"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		reg := NewPublicClientRegistration("mcpgate", "http://localhost:8090/oauth/callback", "")
		resp, err := c.RegisterClient(context.Background(), server.URL, reg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.ClientID != "dyn-client-1" {
			t.Errorf("expected client_id dyn-client-1, got %s", resp.ClientID)
		}
		if got.TokenEndpointAuthMethod != "none" {
			t.Errorf("expected token_endpoint_auth_method none, got %q", got.TokenEndpointAuthMethod)
		}
		if len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != "http://localhost:8090/oauth/callback" {
			t.Errorf("unexpected redirect_uris %v", got.RedirectURIs)
		}
		if len(got.GrantTypes) == 0 || got.GrantTypes[0] != "authorization_code" {
			t.Errorf("unexpected grant_types %v", got.GrantTypes)
		}
	})

	t.Run("fails on non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.RegisterClient(context.Background(), server.URL, &ClientRegistrationRequest{}); err == nil {
			t.Error("expected error on 403")
		}
	})

	t.Run("fails without client_id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		if _, err := c.RegisterClient(context.Background(), server.URL, &ClientRegistrationRequest{}); err == nil {
			t.Error("expected error when client_id is missing")
		}
	})
}

func TestExchangeCode(t *testing.T) {
	t.Run("exchanges code for token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("failed to parse form: %v", err)
			}

			if r.Form.Get("grant_type") != "authorization_code" {
				t.Errorf("expected grant_type authorization_code, got %s", r.Form.Get("grant_type"))
			}
			if r.Form.Get("code") != "auth-code" {
				t.Errorf("expected code auth-code, got %s", r.Form.Get("code"))
			}
			if r.Form.Get("client_id") != "test-client" {
				t.Errorf("expected client_id test-client, got %s", r.Form.Get("client_id"))
			}
			if r.Form.Get("code_verifier") != "verifier123" {
				t.Errorf("expected code_verifier verifier123, got %s", r.Form.Get("code_verifier"))
			}
			if r.Form.Has("client_secret") {
				t.Error("client_secret must never be sent")
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"access-token-123","refresh_token":"refresh-token-456","expires_in":3600,"token_type":"Bearer","id_token":"ignored"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		token, err := c.ExchangeCode(
			context.Background(),
			server.URL+"/token",
			"auth-code",
			"http://localhost:8080/callback",
			"test-client",
			"verifier123",
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token.AccessToken != "access-token-123" {
			t.Errorf("unexpected access token %s", token.AccessToken)
		}
		if token.RefreshToken != "refresh-token-456" {
			t.Errorf("unexpected refresh token %s", token.RefreshToken)
		}
		if token.ExpiresIn != 3600 {
			t.Errorf("expected expires_in 3600, got %d", token.ExpiresIn)
		}
	})

	t.Run("returns TokenError on rejected request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "invalid_grant", "error_description": "code expired"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.ExchangeCode(context.Background(), server.URL, "code", "uri", "client", "verifier")

		var tokenErr *TokenError
		if !errors.As(err, &tokenErr) {
			t.Fatalf("expected *TokenError, got %v", err)
		}
		if tokenErr.StatusCode != http.StatusBadRequest || tokenErr.Code != "invalid_grant" {
			t.Errorf("unexpected token error %+v", tokenErr)
		}
	})
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("expected grant_type refresh_token, got %s", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "old-refresh" {
			t.Errorf("expected refresh_token old-refresh, got %s", r.Form.Get("refresh_token"))
		}
		if r.Form.Get("client_id") != "test-client" {
			t.Errorf("expected client_id test-client, got %s", r.Form.Get("client_id"))
		}
		w.Write([]byte(`{"access_token":"new-access","expires_in":60}`))
	}))
	defer server.Close()

	c := NewClient(WithHTTPClient(server.Client()))
	token, err := c.RefreshToken(context.Background(), server.URL, "old-refresh", "test-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.AccessToken != "new-access" {
		t.Errorf("unexpected access token %s", token.AccessToken)
	}
	if token.RefreshToken != "" {
		t.Errorf("expected no refresh token, got %s", token.RefreshToken)
	}
}
