package app

import (
	"fmt"

	"mcpgate/internal/config"
	"mcpgate/internal/oauth"
	"mcpgate/internal/proxy"
	"mcpgate/internal/registry"
	"mcpgate/internal/server"
	"mcpgate/internal/tokenstore"
	pkgoauth "mcpgate/pkg/oauth"
	"mcpgate/pkg/logging"
)

// Services holds the wired components of a running gateway.
type Services struct {
	Registry *registry.Registry
	Store    tokenstore.Store
	Broker   *oauth.Broker
	Proxy    *proxy.Proxy
	Server   *server.Server
}

// InitializeServices builds every component from cfg. Order matters: the
// broker needs the registry and store, the proxy needs the broker as its
// token source and the server needs all of them.
func InitializeServices(cfg *config.Config) (*Services, error) {
	reg, err := registry.New(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("failed to build service registry: %w", err)
	}
	logging.Info("Services", "Registered %d service(s)", reg.Len())

	store, err := tokenstore.New(cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	broker, err := oauth.NewBroker(oauth.BrokerOptions{
		Registry:    reg,
		Store:       store,
		Client:      pkgoauth.NewClient(pkgoauth.WithLogger(logging.Logger())),
		RedirectURI: cfg.Server.RedirectURI(),
		ClientName:  cfg.OAuth.ClientName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token broker: %w", err)
	}

	px, err := proxy.NewProxy(proxy.Options{
		Registry:          reg,
		Tokens:            broker,
		PublicURL:         cfg.Server.BaseURL(),
		RequestTimeout:    cfg.Proxy.RequestTimeout,
		StreamIdleTimeout: cfg.Proxy.StreamIdleTimeout,
	})
	if err != nil {
		broker.Close()
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	srv, err := server.New(server.Options{
		Config:   cfg.Server,
		Services: reg,
		Broker:   broker,
		Proxy:    px,
		Callback: oauth.NewHandler(broker, cfg.Server.AuthErrorRedirect),
	})
	if err != nil {
		broker.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Services{
		Registry: reg,
		Store:    store,
		Broker:   broker,
		Proxy:    px,
		Server:   srv,
	}, nil
}

// Close releases background resources.
func (s *Services) Close() {
	s.Broker.Close()
}
