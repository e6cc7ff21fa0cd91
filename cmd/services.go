package cmd

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mcpgate/internal/registry"
)

func newServicesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect the services known to the gateway",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			services, err := client.ListServices(cmd.Context())
			if err != nil {
				return err
			}
			renderServices(cmd.OutOrStdout(), services)
			return nil
		},
	})
	return cmd
}

func renderServices(out io.Writer, services []registry.ServiceDescriptor) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Type", "Endpoint", "Proxy", "Auth"})

	for _, svc := range services {
		endpoint := svc.URL
		if svc.Type == registry.TransportStdio {
			endpoint = svc.Command
		}
		t.AppendRow(table.Row{svc.Name, string(svc.Type), endpoint, yesNo(svc.Proxy), authMode(svc)})
	}
	t.AppendFooter(table.Row{"Total", len(services)})
	t.Render()
}

func authMode(svc registry.ServiceDescriptor) string {
	switch {
	case svc.HasStaticToken():
		return "static"
	case svc.IsRemote():
		return "oauth"
	default:
		return "-"
	}
}

func yesNo(v bool) string {
	if v {
		return text.FgGreen.Sprint("yes")
	}
	return "no"
}
