package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mcpgate/internal/config"
	"mcpgate/pkg/logging"
)

// Application bootstraps and runs the gateway.
//
// Initialization happens in two phases: NewApplication loads configuration,
// sets up logging and wires all services; Run serves until the context is
// cancelled or a termination signal arrives.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration from cfg.ConfigPath and wires all
// services.
func NewApplication(cfg *Config) (*Application, error) {
	// Bootstrap logging until the configured level is known.
	bootLevel := logging.LevelInfo
	if cfg.Debug {
		bootLevel = logging.LevelDebug
	}
	logging.InitForCLI(bootLevel, os.Stderr)

	gateCfg, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		var coll *config.ConfigurationErrorCollection
		if errors.As(err, &coll) {
			fmt.Fprintln(os.Stderr, coll.GetDetailedReport())
		}
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
		return nil, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
	}
	cfg.GateConfig = &gateCfg

	configureLogging(cfg)

	services, err := InitializeServices(&gateCfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func configureLogging(cfg *Config) {
	level := logging.ParseLevel(cfg.GateConfig.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	format := logging.FormatText
	if cfg.GateConfig.Logging.Format == string(logging.FormatJSON) {
		format = logging.FormatJSON
	}
	logging.Init(level, format, os.Stderr)
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *Application) Run(ctx context.Context) error {
	defer a.services.Close()
	return runServer(ctx, a.config, a.services)
}
