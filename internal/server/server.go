package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mcpgate/internal/config"
	"mcpgate/internal/oauth"
	"mcpgate/internal/proxy"
	"mcpgate/internal/registry"
	"mcpgate/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout is the idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	// maxRequestBody bounds client request bodies.
	maxRequestBody = proxy.MaxBufferedResponse
)

// Authorizer is the part of the broker the edge drives.
type Authorizer interface {
	InitiateAuthorization(ctx context.Context, service string) (string, error)
	Revoke(ctx context.Context, service string) error
	Status(ctx context.Context, service string) (oauth.ServiceStatus, error)
}

// Forwarder is the part of the proxy the edge drives.
type Forwarder interface {
	Forward(ctx context.Context, req *proxy.Request) (*proxy.Response, error)
	ServeStream(ctx context.Context, w http.ResponseWriter, resp *proxy.Response) error
}

// ServiceLister lists the configured services.
type ServiceLister interface {
	List() []registry.ServiceDescriptor
}

// Options configures a Server.
type Options struct {
	Config   config.ServerConfig
	Services ServiceLister
	Broker   Authorizer
	Proxy    Forwarder
	Callback http.Handler
}

// Server is the HTTP edge of mcpgate.
type Server struct {
	cfg        config.ServerConfig
	services   ServiceLister
	broker     Authorizer
	proxy      Forwarder
	callback   http.Handler
	httpServer *http.Server
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Services == nil || opts.Broker == nil || opts.Proxy == nil || opts.Callback == nil {
		return nil, fmt.Errorf("server requires services, broker, proxy and callback handler")
	}
	if err := checkPublicURL(opts.Config.BaseURL()); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      opts.Config,
		services: opts.Services,
		broker:   opts.Broker,
		proxy:    opts.Proxy,
		callback: opts.Callback,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Config.ListenAddr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s, nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/services", s.handleServices)

	r.Post("/authorize/{service}", s.handleAuthorize)
	r.Delete("/authorize/{service}", s.handleRevoke)
	r.Method(http.MethodGet, s.cfg.CallbackPath, s.callback)

	r.Get("/proxy/{service}/status", s.handleStatus)
	r.Post("/proxy/{service}", s.handleProxy)
	r.Get("/proxy/{service}", s.handleProxy)

	return r
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return l, nil
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	logging.Info("Server", "Listening on %s (public url %s)", l.Addr(), s.cfg.BaseURL())
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// checkPublicURL rejects malformed public URLs and warns when plain HTTP is
// used for anything but loopback, since the callback then carries codes in
// clear text.
func checkPublicURL(publicURL string) error {
	u, err := url.Parse(publicURL)
	if err != nil {
		return fmt.Errorf("invalid public URL: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("Server", "Public URL %s uses plain HTTP on a non-loopback host", publicURL)
		}
	default:
		return fmt.Errorf("invalid public URL scheme %q: must be http or https", u.Scheme)
	}
	return nil
}
