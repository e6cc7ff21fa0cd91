package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mcpgate/internal/app"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		debug bool
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Starts the HTTP gateway: the OAuth broker endpoints, the callback
handler and the MCP proxy.

Configuration is read from config.yaml in --config-path. Additional service
descriptors can be supplied as JSON or YAML in the MCP_SERVERS environment
variable. With --watch, edits to config.yaml replace the service list
without a restart.

The gateway stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.NewConfig(debug, root.configPath, watch)

			application, err := app.NewApplication(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return application.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload services when config.yaml changes")
	return cmd
}
