package cmd

import (
	"fmt"

	"github.com/rand/docgraph/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the configuration after merging the YAML file, .env and DOCGRAPH_* variables",
		Example: `
# Human-readable
docgraph config show

# As YAML, ready to save as docgraph.yaml
docgraph config show --yaml
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asYAML, _ := cmd.Flags().GetBool("yaml")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asYAML {
				redacted := *cfg
				if redacted.Store.Neo4j.Password != "" {
					redacted.Store.Neo4j.Password = "********"
				}
				return encode(out, &redacted, true)
			}

			fmt.Fprintln(out, "Effective Configuration")
			fmt.Fprintln(out, "=======================")
			fmt.Fprintf(out, "  Scope:          %s\n", cfg.Scope)
			fmt.Fprintf(out, "  Backend:        %s\n", cfg.Store.Backend)
			switch cfg.Store.Backend {
			case config.BackendSQLite:
				fmt.Fprintf(out, "  SQLite Path:    %s\n", cfg.Store.SQLite.Path)
			case config.BackendNeo4j:
				fmt.Fprintf(out, "  Neo4j URI:      %s\n", cfg.Store.Neo4j.URI)
				fmt.Fprintf(out, "  Neo4j Database: %s\n", cfg.Store.Neo4j.Database)
			}
			fmt.Fprintf(out, "  Journal:        %v\n", cfg.Journal.Enabled)
			if cfg.Journal.Path != "" {
				fmt.Fprintf(out, "  Journal Path:   %s\n", cfg.Journal.Path)
			}
			fmt.Fprintf(out, "  Log Level:      %s\n", cfg.Log.Level)
			fmt.Fprintf(out, "  Log Format:     %s\n", cfg.Log.Format)
			if cfg.Log.File != "" {
				fmt.Fprintf(out, "  Log File:       %s\n", cfg.Log.File)
			}
			if cfg.Metrics.Textfile != "" {
				fmt.Fprintf(out, "  Metrics File:   %s\n", cfg.Metrics.Textfile)
			}
			return nil
		},
	}
	showCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	configCmd.AddCommand(showCmd)
	return configCmd
}
