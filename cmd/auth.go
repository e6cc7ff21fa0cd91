package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mcpgate/internal/oauth"
)

const (
	// DefaultLoginTimeout bounds how long login --wait polls for completion.
	DefaultLoginTimeout = 5 * time.Minute
)

// authPollInterval is how often login --wait checks the service status.
var authPollInterval = 2 * time.Second

func newAuthCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage OAuth authorization of upstream services",
		Long: `Manage OAuth authorization of upstream services on a running gateway.

Examples:
  mcpgate auth status                 # Status of every service
  mcpgate auth status jira            # Status of one service
  mcpgate auth login jira --wait      # Authorize and wait for the callback
  mcpgate auth logout jira            # Forget the stored token`,
	}

	cmd.AddCommand(newAuthStatusCmd(root))
	cmd.AddCommand(newAuthLoginCmd(root))
	cmd.AddCommand(newAuthLogoutCmd(root))
	return cmd
}

func newAuthStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [service]",
		Short: "Show authorization status",
		Long: `Show the authorization status of one service, or of all services.

With a service argument the command exits with code 2 when the service is
not authorized.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var names []string
			if len(args) == 1 {
				names = args
			} else {
				services, err := client.ListServices(ctx)
				if err != nil {
					return err
				}
				for _, svc := range services {
					names = append(names, svc.Name)
				}
			}

			rows := make([]statusRow, 0, len(names))
			for _, name := range names {
				status, err := client.Status(ctx, name)
				if err != nil {
					return err
				}
				rows = append(rows, statusRow{name: name, status: status})
			}
			renderStatus(cmd.OutOrStdout(), rows)

			if len(args) == 1 && !rows[0].status.IsAuthorized {
				return &AuthRequiredError{Service: args[0]}
			}
			return nil
		},
	}
}

type statusRow struct {
	name   string
	status oauth.ServiceStatus
}

func renderStatus(out io.Writer, rows []statusRow) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Service", "Authorized", "Token", "Proxy", "Target"})

	for _, r := range rows {
		authorized := text.FgYellow.Sprint("no")
		if r.status.IsAuthorized {
			authorized = text.FgGreen.Sprint("yes")
		}
		t.AppendRow(table.Row{r.name, authorized, yesNo(r.status.HasToken), yesNo(r.status.IsProxy), r.status.TargetURL})
	}
	t.Render()
}

func newAuthLoginCmd(root *rootOptions) *cobra.Command {
	var (
		wait      bool
		noBrowser bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login <service>",
		Short: "Start the OAuth flow for a service",
		Long: `Start the OAuth authorization code flow for a service.

The authorization URL is printed and, unless --no-browser is set, opened in
the default browser. With --wait the command blocks until the gateway has
received the callback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := args[0]
			client, err := root.client()
			if err != nil {
				return err
			}

			authURL, err := client.Authorize(cmd.Context(), service)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.Code == "already_authorized" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s uses a static token, nothing to do.\n", service)
					return nil
				}
				return &AuthFailedError{Service: service, Reason: err}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL to authorize %s:\n\n  %s\n\n", service, authURL)
			if !noBrowser {
				if err := openBrowser(authURL); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not open a browser: %v\n", err)
				}
			}

			if !wait {
				return nil
			}
			return waitForAuthorization(cmd.Context(), cmd.ErrOrStderr(), out, client, service, timeout)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the authorization completes")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the URL without opening a browser")
	cmd.Flags().DurationVar(&timeout, "timeout", DefaultLoginTimeout, "How long --wait waits")
	return cmd
}

func waitForAuthorization(ctx context.Context, progress, out io.Writer, client *gatewayClient, service string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(progress))
	s.Suffix = " Waiting for authorization of " + service + "..."
	s.Start()
	defer s.Stop()

	ticker := time.NewTicker(authPollInterval)
	defer ticker.Stop()

	for {
		status, err := client.Status(ctx, service)
		if err == nil && status.IsAuthorized {
			s.Stop()
			fmt.Fprintf(out, "%s %s is authorized.\n", text.FgGreen.Sprint("✓"), service)
			return nil
		}

		select {
		case <-ctx.Done():
			return &AuthFailedError{Service: service, Reason: fmt.Errorf("no callback within %s", timeout)}
		case <-ticker.C:
		}
	}
}

func newAuthLogoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <service>",
		Short: "Forget the stored token of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			if err := client.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed the stored token for %s.\n", args[0])
			return nil
		},
	}
}
