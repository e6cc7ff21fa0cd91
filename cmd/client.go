package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mcpgate/internal/oauth"
	"mcpgate/internal/registry"
)

// DefaultRequestTimeout bounds a single call to the gateway API.
const DefaultRequestTimeout = 30 * time.Second

// APIError is an error answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

// gatewayClient talks to the management API of a running gateway.
type gatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func newGatewayClient(baseURL string) *gatewayClient {
	return &gatewayClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
}

func (c *gatewayClient) ListServices(ctx context.Context) ([]registry.ServiceDescriptor, error) {
	var services []registry.ServiceDescriptor
	if err := c.do(ctx, http.MethodGet, "/services", &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (c *gatewayClient) Status(ctx context.Context, service string) (oauth.ServiceStatus, error) {
	var status oauth.ServiceStatus
	err := c.do(ctx, http.MethodGet, "/proxy/"+url.PathEscape(service)+"/status", &status)
	return status, err
}

func (c *gatewayClient) Authorize(ctx context.Context, service string) (string, error) {
	var resp struct {
		AuthURL string `json:"authUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "/authorize/"+url.PathEscape(service), &resp); err != nil {
		return "", err
	}
	return resp.AuthURL, nil
}

func (c *gatewayClient) Revoke(ctx context.Context, service string) error {
	return c.do(ctx, http.MethodDelete, "/authorize/"+url.PathEscape(service), nil)
}

func (c *gatewayClient) do(ctx context.Context, method, path string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if into == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
