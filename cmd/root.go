package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"mcpgate/internal/config"
	"mcpgate/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a service is not authorized.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow did not complete.
	ExitCodeAuthFailed = 3
)

// AuthRequiredError is returned when a queried service has no usable token.
type AuthRequiredError struct {
	Service string
}

func (e *AuthRequiredError) Error() string {
	return "service " + e.Service + " is not authorized; run: mcpgate auth login " + e.Service
}

// AuthFailedError is returned when an authorization flow did not complete.
type AuthFailedError struct {
	Service string
	Reason  error
}

func (e *AuthFailedError) Error() string {
	return "authorization for " + e.Service + " failed: " + e.Reason.Error()
}

func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	gatewayURL string
}

var version = "dev"

// rootCmd is the command tree used by Execute.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mcpgate",
		Short: "OAuth token broker and reverse proxy for remote MCP servers",
		Long: `mcpgate obtains and refreshes OAuth tokens for remote MCP servers and
forwards JSON-RPC and SSE traffic to them with the right credentials attached.

Run 'mcpgate serve' to start the gateway; the other commands talk to a
running gateway.`,
		SilenceUsage: true,
		Version:      version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitForCLI(logging.LevelWarn, cmd.ErrOrStderr())
		},
	}
	cmd.SetVersionTemplate(`{{printf "mcpgate version %s\n" .Version}}`)

	defaultPath, err := config.GetDefaultConfigPath()
	if err != nil {
		defaultPath = ""
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config-path", defaultPath, "Configuration directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&opts.gatewayURL, "gateway", "", "Gateway base URL (default: derived from the configuration)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newServicesCmd(opts))
	cmd.AddCommand(newAuthCmd(opts))
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSelfUpdateCmd())
	return cmd
}

// client returns a gateway client for the --gateway flag, or for the public
// URL of the local configuration.
func (o *rootOptions) client() (*gatewayClient, error) {
	if o.gatewayURL != "" {
		return newGatewayClient(o.gatewayURL), nil
	}
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	return newGatewayClient(cfg.Server.BaseURL()), nil
}

// SetVersion sets the version reported by the binary.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return version
}

// Execute runs the command tree and exits with a semantic exit code on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	var authRequired *AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authFailed *AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
