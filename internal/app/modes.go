package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mcpgate/internal/config"
	"mcpgate/internal/registry"
	pkgoauth "mcpgate/pkg/oauth"
	"mcpgate/pkg/logging"
)

// shutdownTimeout bounds the graceful drain of open connections.
const shutdownTimeout = 15 * time.Second

// runServer serves HTTP, keeps tokens fresh and optionally watches the
// configuration file. It blocks until ctx is done, a termination signal
// arrives or the listener fails.
func runServer(ctx context.Context, cfg *Config, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := services.Server.Listen()
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- services.Server.Serve(l)
	}()

	if cfg.Watch {
		watcher := newConfigWatcher(cfg.ConfigPath, services.Registry)
		if err := watcher.Start(); err != nil {
			logging.Warn("Serve", "Config watching disabled: %v", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	go refreshLoop(ctx, services, cfg.GateConfig.OAuth.RefreshInterval)

	notifySystemd(daemon.SdNotifyReady)
	logging.Info("Serve", "mcpgate is ready. Press Ctrl+C to stop.")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logging.Info("Serve", "Shutting down")
	notifySystemd(daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := services.Server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-serveErr
}

// refreshLoop proactively refreshes tokens that are close to expiry.
func refreshLoop(ctx context.Context, services *Services, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := services.Broker.RefreshExpiring(ctx, pkgoauth.TokenRefreshThreshold); err != nil {
				logging.Warn("Serve", "Proactive token refresh: %v", err)
			}
		}
	}
}

// newConfigWatcher reloads the service descriptors when config.yaml changes.
// A file that fails to load leaves the current registry in place.
func newConfigWatcher(configPath string, reg *registry.Registry) *registry.FileWatcher {
	return registry.NewFileWatcher(registry.FileWatcherConfig{
		Path: config.ConfigFilePath(configPath),
		OnChange: func() {
			reloadServices(configPath, reg)
		},
	})
}

func reloadServices(configPath string, reg *registry.Registry) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logging.Error("Serve", err, "Ignoring invalid configuration change")
		return
	}
	if err := reg.Replace(cfg.Services); err != nil {
		logging.Error("Serve", err, "Failed to apply service descriptors")
		return
	}
	logging.Info("Serve", "Reloaded %d service(s)", reg.Len())
}

func notifySystemd(state string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}
	if _, err := daemon.SdNotify(false, state); err != nil {
		logging.Debug("Serve", "systemd notify failed: %v", err)
	}
}
