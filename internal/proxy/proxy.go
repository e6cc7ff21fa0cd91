package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mcpgate/internal/jsonrpc"
	"mcpgate/internal/registry"
	"mcpgate/pkg/logging"
)

const (
	// DefaultRequestTimeout bounds a buffered round trip, headers and body.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultStreamIdleTimeout ends a stream that produced no bytes for this long.
	DefaultStreamIdleTimeout = 5 * time.Minute

	acceptJSONAndSSE = "application/json, text/event-stream"
)

// ServiceLookup resolves a service name to its descriptor.
type ServiceLookup interface {
	Lookup(name string) (registry.ServiceDescriptor, error)
}

// TokenSource supplies the bearer token for a service. An empty token means
// the request goes out unauthenticated.
type TokenSource interface {
	GetToken(ctx context.Context, service string) (string, error)
}

// Options configures a Proxy. Registry and PublicURL are required.
type Options struct {
	Registry          ServiceLookup
	Tokens            TokenSource
	HTTPClient        *http.Client
	PublicURL         string
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
}

// Proxy forwards MCP traffic from clients to upstream services, attaching the
// brokered credentials.
type Proxy struct {
	registry          ServiceLookup
	tokens            TokenSource
	httpClient        *http.Client
	publicURL         *url.URL
	requestTimeout    time.Duration
	streamIdleTimeout time.Duration
}

// Request is one client request to forward.
type Request struct {
	Service string

	// HTTPMethod is the client's method, GET or POST.
	HTTPMethod string

	// Target optionally overrides the service URL, for session continuation.
	Target string

	// Method, Params and ID form the JSON-RPC envelope of a POST without target.
	Method string
	Params json.RawMessage
	ID     json.RawMessage

	// Body is forwarded verbatim for a POST with target.
	Body []byte

	ClientHeaders http.Header
}

// Response is the classified upstream answer. Exactly one of Body and
// Stream is set.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser

	service     string
	upstreamURL *url.URL
	eventStream bool
}

// IsStream reports whether the response has to be relayed with ServeStream.
func (r *Response) IsStream() bool {
	return r.Stream != nil
}

// NewProxy creates a Proxy.
func NewProxy(opts Options) (*Proxy, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("proxy requires a service registry")
	}
	publicURL, err := url.Parse(opts.PublicURL)
	if err != nil || !publicURL.IsAbs() {
		return nil, fmt.Errorf("proxy requires an absolute public url, got %q", opts.PublicURL)
	}

	p := &Proxy{
		registry:          opts.Registry,
		tokens:            opts.Tokens,
		httpClient:        opts.HTTPClient,
		publicURL:         publicURL,
		requestTimeout:    opts.RequestTimeout,
		streamIdleTimeout: opts.StreamIdleTimeout,
	}
	if p.httpClient == nil {
		p.httpClient = newHTTPClient()
	}
	if p.requestTimeout <= 0 {
		p.requestTimeout = DefaultRequestTimeout
	}
	if p.streamIdleTimeout <= 0 {
		p.streamIdleTimeout = DefaultStreamIdleTimeout
	}
	return p, nil
}

// newHTTPClient returns a client without an overall timeout; streams may
// legitimately stay open for a long time.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Forward sends req upstream and classifies the answer. Non-2xx answers are
// returned as *UpstreamHTTPError. A streaming Response must be passed to
// ServeStream or have its Stream closed.
func (p *Proxy) Forward(ctx context.Context, req *Request) (*Response, error) {
	desc, err := p.registry.Lookup(req.Service)
	if err != nil {
		return nil, err
	}
	if !desc.Proxy {
		return nil, fmt.Errorf("%w: %s", ErrProxyDisabled, req.Service)
	}

	target, err := ResolveTarget(desc.URL, req.Target)
	if err != nil {
		return nil, err
	}

	token := p.bearerFor(ctx, desc)

	ctx, cancel := context.WithCancel(ctx)
	deadline := time.AfterFunc(p.requestTimeout, cancel)

	outbound, err := p.buildRequest(ctx, req, target, token)
	if err != nil {
		deadline.Stop()
		cancel()
		return nil, err
	}

	logging.Debug("Proxy", "Forwarding %s %s for %s (authenticated=%t)",
		outbound.Method, target.Redacted(), req.Service, token != "")

	resp, err := p.httpClient.Do(outbound)
	if err != nil {
		deadline.Stop()
		cancel()
		return nil, fmt.Errorf("upstream request to %s failed: %w", req.Service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer deadline.Stop()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxBufferedResponse))
		logging.Debug("Proxy", "Upstream %s answered %s", req.Service, resp.Status)
		return nil, &UpstreamHTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     FilterResponseHeaders(resp.Header),
			Body:       body,
		}
	}

	out := &Response{
		StatusCode:  resp.StatusCode,
		Header:      FilterResponseHeaders(resp.Header),
		service:     req.Service,
		upstreamURL: target,
	}

	eventStream := isEventStream(resp.Header)
	if eventStream || isChunked(resp) {
		if !deadline.Stop() {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("upstream request to %s failed: %w", req.Service, context.DeadlineExceeded)
		}
		out.eventStream = eventStream
		out.Stream = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		if eventStream {
			setDefault(out.Header, "Content-Type", "text/event-stream")
			setDefault(out.Header, "Cache-Control", "no-cache")
			setDefault(out.Header, "Access-Control-Allow-Origin", "*")
		}
		return out, nil
	}

	defer cancel()
	defer deadline.Stop()
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBufferedResponse+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response from %s: %w", req.Service, err)
	}
	if len(body) > MaxBufferedResponse {
		return nil, fmt.Errorf("%w: %s sent more than %d bytes", ErrResponseTooLarge, req.Service, MaxBufferedResponse)
	}
	out.Body = body
	return out, nil
}

func (p *Proxy) bearerFor(ctx context.Context, desc registry.ServiceDescriptor) string {
	if desc.HasStaticToken() {
		return desc.AuthorizationToken
	}
	if p.tokens == nil {
		return ""
	}
	token, err := p.tokens.GetToken(ctx, desc.Name)
	if err != nil {
		logging.Warn("Proxy", "Could not obtain token for %s, forwarding unauthenticated: %v", desc.Name, err)
		return ""
	}
	return token
}

func (p *Proxy) buildRequest(ctx context.Context, req *Request, target *url.URL, token string) (*http.Request, error) {
	var (
		method = http.MethodPost
		body   []byte
		accept = acceptJSONAndSSE
	)

	switch {
	case req.HTTPMethod == http.MethodGet && req.Target == "":
		env, err := jsonrpc.NewInitialize()
		if err != nil {
			return nil, err
		}
		if body, err = env.Marshal(); err != nil {
			return nil, err
		}
	case req.HTTPMethod == http.MethodGet:
		method = http.MethodGet
		accept = "text/event-stream"
	case req.Target != "":
		body = req.Body
	default:
		if strings.TrimSpace(req.Method) == "" {
			return nil, fmt.Errorf("%w: method is required", ErrInvalidRequest)
		}
		var err error
		if body, err = jsonrpc.NewEnvelope(req.Method, req.Params, req.ID).Marshal(); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if method == http.MethodPost {
		reader = bytes.NewReader(body)
	}
	outbound, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}

	outbound.Header = FilterRequestHeaders(req.ClientHeaders)
	if method == http.MethodPost {
		outbound.Header.Set("Content-Type", "application/json")
		setDefault(outbound.Header, "Accept", accept)
	} else {
		outbound.Header.Set("Accept", accept)
	}
	if token != "" {
		outbound.Header.Set("Authorization", "Bearer "+token)
	}
	return outbound, nil
}

func isEventStream(h http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && strings.EqualFold(mediaType, "text/event-stream")
}

func isChunked(resp *http.Response) bool {
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return false
}

// cancelOnClose releases the request context when the stream is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// IsUpstreamError reports whether err is an *UpstreamHTTPError and returns it.
func IsUpstreamError(err error) (*UpstreamHTTPError, bool) {
	var upstream *UpstreamHTTPError
	if errors.As(err, &upstream) {
		return upstream, true
	}
	return nil, false
}
