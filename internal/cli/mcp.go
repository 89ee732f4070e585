package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/exiw-ai/proofloop/internal/config"
	"github.com/exiw-ai/proofloop/internal/mcpsel"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect the MCP server registry",
	}
	cmd.AddCommand(newMCPListCmd())
	return cmd
}

func newMCPListCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available MCP server templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			settings, err := config.LoadSettings(home)
			if err != nil {
				return err
			}
			registry, err := mcpsel.LoadRegistry(settings.MCPRegistry)
			if err != nil {
				return err
			}

			templates := registry.ListAll()
			if category != "" {
				templates = registry.ListByCategory(category)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tCATEGORY\tCREDENTIALS\tDESCRIPTION")
			for _, t := range templates {
				creds := "ok"
				if missing := mcpsel.MissingCredentials(t); len(missing) > 0 {
					creds = "missing " + strings.Join(missing, ",")
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Category, creds, t.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only list servers in this category")
	return cmd
}
