package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/registry"
)

type staticTokens map[string]string

func (s staticTokens) GetToken(_ context.Context, service string) (string, error) {
	return s[service], nil
}

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

type upstream struct {
	server   *httptest.Server
	hits     atomic.Int32
	captured chan capturedRequest
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	u := &upstream{captured: make(chan capturedRequest, 16)}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		u.captured <- capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		}
		handler(w, r)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Server", "upstream")
		w.Header().Set("Mcp-Session-Id", "sess-1")
		_, _ = io.WriteString(w, body)
	}
}

func newTestProxy(t *testing.T, tokens TokenSource, services ...registry.ServiceDescriptor) *Proxy {
	reg, err := registry.New(services)
	require.NoError(t, err)
	p, err := NewProxy(Options{
		Registry:  reg,
		Tokens:    tokens,
		PublicURL: "https://gate.example.com",
	})
	require.NoError(t, err)
	return p
}

func service(name, url string, proxied bool) registry.ServiceDescriptor {
	return registry.ServiceDescriptor{Name: name, Type: registry.TransportHTTP, URL: url, Proxy: proxied}
}

func TestNewProxy_Validation(t *testing.T) {
	reg, err := registry.New(nil)
	require.NoError(t, err)

	_, err = NewProxy(Options{PublicURL: "https://gate.example.com"})
	assert.Error(t, err)
	_, err = NewProxy(Options{Registry: reg, PublicURL: "not-absolute"})
	assert.Error(t, err)
}

func TestForward_UnknownService(t *testing.T) {
	p := newTestProxy(t, nil)
	_, err := p.Forward(context.Background(), &Request{Service: "nope", HTTPMethod: http.MethodPost, Method: "ping"})
	assert.True(t, errors.Is(err, registry.ErrServiceNotFound))
}

func TestForward_ProxyDisabledDoesNoIO(t *testing.T) {
	up := newUpstream(t, jsonHandler(`{}`))
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", false))

	_, err := p.Forward(context.Background(), &Request{Service: "jira", HTTPMethod: http.MethodPost, Method: "ping"})
	assert.True(t, errors.Is(err, ErrProxyDisabled))
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestForward_InvalidTargetDoesNoIO(t *testing.T) {
	up := newUpstream(t, jsonHandler(`{}`))
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	_, err := p.Forward(context.Background(), &Request{
		Service:    "jira",
		HTTPMethod: http.MethodPost,
		Target:     "https://evil.example.com/mcp",
		Body:       []byte(`{}`),
	})
	assert.True(t, errors.Is(err, ErrInvalidTargetURL))
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestForward_PostEnvelope(t *testing.T) {
	up := newUpstream(t, jsonHandler(`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`))
	p := newTestProxy(t, staticTokens{"jira": "brokered-token"}, service("jira", up.server.URL+"/mcp", true))

	clientHeaders := http.Header{}
	clientHeaders.Set("Authorization", "Bearer client-token")
	clientHeaders.Set("Cookie", "a=b")
	clientHeaders.Set("Mcp-Session-Id", "sess-1")

	resp, err := p.Forward(context.Background(), &Request{
		Service:       "jira",
		HTTPMethod:    http.MethodPost,
		Method:        "tools/list",
		Params:        json.RawMessage(`{}`),
		ID:            json.RawMessage(`1`),
		ClientHeaders: clientHeaders,
	})
	require.NoError(t, err)
	assert.False(t, resp.IsStream())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, string(resp.Body))
	assert.Equal(t, "sess-1", resp.Header.Get("Mcp-Session-Id"))
	assert.Empty(t, resp.Header.Get("Server"))

	got := <-up.captured
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/mcp", got.Path)
	assert.Equal(t, "Bearer brokered-token", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Empty(t, got.Header.Get("Cookie"))
	assert.Equal(t, "sess-1", got.Header.Get("Mcp-Session-Id"))
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"tools/list","params":{},"id":1}`, string(got.Body))
}

func TestForward_NotificationOmitsID(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	resp, err := p.Forward(context.Background(), &Request{
		Service:    "jira",
		HTTPMethod: http.MethodPost,
		Method:     "notifications/initialized",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	got := <-up.captured
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(got.Body))
	assert.Empty(t, got.Header.Get("Authorization"), "no token forwards unauthenticated")
}

func TestForward_MissingMethod(t *testing.T) {
	up := newUpstream(t, jsonHandler(`{}`))
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	_, err := p.Forward(context.Background(), &Request{Service: "jira", HTTPMethod: http.MethodPost})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestForward_StaticTokenWins(t *testing.T) {
	up := newUpstream(t, jsonHandler(`{}`))
	desc := service("github", up.server.URL+"/mcp", true)
	desc.AuthorizationToken = "ghp_static"
	p := newTestProxy(t, staticTokens{"github": "brokered"}, desc)

	_, err := p.Forward(context.Background(), &Request{Service: "github", HTTPMethod: http.MethodPost, Method: "ping"})
	require.NoError(t, err)

	got := <-up.captured
	assert.Equal(t, "Bearer ghp_static", got.Header.Get("Authorization"))
}

func TestForward_GetWithoutTargetSendsInitialize(t *testing.T) {
	up := newUpstream(t, jsonHandler(`{"jsonrpc":"2.0","result":{}}`))
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	_, err := p.Forward(context.Background(), &Request{Service: "jira", HTTPMethod: http.MethodGet})
	require.NoError(t, err)

	got := <-up.captured
	assert.Equal(t, http.MethodPost, got.Method)
	var env struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
	}
	require.NoError(t, json.Unmarshal(got.Body, &env))
	assert.Equal(t, "initialize", env.Method)
	assert.NotEmpty(t, env.ID)
}

func TestForward_TargetPassthrough(t *testing.T) {
	up := newUpstream(t, jsonHandler(`{"ok":true}`))
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	_, err := p.Forward(context.Background(), &Request{
		Service:    "jira",
		HTTPMethod: http.MethodPost,
		Target:     up.server.URL + "/messages?sessionId=abc",
		Body:       []byte(`{"jsonrpc":"2.0","method":"tools/call","id":"x"}`),
	})
	require.NoError(t, err)

	got := <-up.captured
	assert.Equal(t, "/messages", got.Path)
	assert.Equal(t, "sessionId=abc", got.Query)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"tools/call","id":"x"}`, string(got.Body))

	_, err = p.Forward(context.Background(), &Request{
		Service:    "jira",
		HTTPMethod: http.MethodGet,
		Target:     up.server.URL + "/sse",
	})
	require.NoError(t, err)

	got = <-up.captured
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/sse", got.Path)
	assert.Equal(t, "text/event-stream", got.Header.Get("Accept"))
	assert.Empty(t, got.Body)
}

func TestForward_UpstreamError(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="x"`)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"unauthorized"}`)
	})
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	_, err := p.Forward(context.Background(), &Request{Service: "jira", HTTPMethod: http.MethodPost, Method: "ping"})
	upstreamErr, ok := IsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, upstreamErr.StatusCode)
	assert.Equal(t, "401 Unauthorized", upstreamErr.Status)
	assert.JSONEq(t, `{"error":"unauthorized"}`, string(upstreamErr.Body))
	assert.Empty(t, upstreamErr.Header.Get("Www-Authenticate"))
}

func TestForward_ResponseTooLarge(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "10485761")
		_, _ = io.Copy(w, io.LimitReader(zeroReader{}, MaxBufferedResponse+1))
	})
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	_, err := p.Forward(context.Background(), &Request{Service: "jira", HTTPMethod: http.MethodPost, Method: "ping"})
	assert.True(t, errors.Is(err, ErrResponseTooLarge))
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '0'
	}
	return len(p), nil
}

func TestForward_EventStreamIsStreamed(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "event: message\ndata: {}\n\n")
	})
	p := newTestProxy(t, nil, service("jira", up.server.URL+"/mcp", true))

	resp, err := p.Forward(context.Background(), &Request{Service: "jira", HTTPMethod: http.MethodPost, Method: "ping"})
	require.NoError(t, err)
	require.True(t, resp.IsStream())
	defer resp.Stream.Close()

	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	body, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "event: message"))
}
