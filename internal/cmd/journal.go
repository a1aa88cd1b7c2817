package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rand/docgraph/internal/journal"
	"github.com/spf13/cobra"
)

func newJournalCmd() *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Operation journal commands",
		Long:  "Inspect journaled destructive operations and recover interrupted ones",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		Example: `
# Entries an interrupted update left behind
docgraph journal list --status pending
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			rt, cleanup, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if rt.journal == nil {
				return errors.New("journal is disabled")
			}

			filter := journal.Filter{Scope: rt.cfg.Scope, Limit: limit}
			if status != "" {
				filter.Statuses = []journal.Status{journal.Status(status)}
			}
			entries, err := rt.journal.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list journal: %w", err)
			}

			if asJSON {
				for _, e := range entries {
					e.Snapshot = nil
				}
				return encode(cmd.OutOrStdout(), entries, false)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOPERATION\tROOT\tSTATUS\tUPDATED\tMESSAGE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Operation, e.RootURI, e.Status, e.UpdatedAt.Format(time.RFC3339), e.Message)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().String("status", "", "Only entries with this status (pending, committed, rolled_back, failed, recovered)")
	listCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries")
	listCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	recoverCmd := &cobra.Command{
		Use:   "recover <entry-id>",
		Short: "Re-apply the backup of a pending entry",
		Long: `Restore the snapshot recorded by an operation that died between deleting
the prior version and finishing its insert.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			rt, cleanup, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := rt.orch.Recover(cmd.Context(), rt.cfg.Scope, args[0])
			printResult(cmd.OutOrStdout(), res, asJSON)
			return err
		},
	}
	recoverCmd.Flags().BoolP("json", "j", false, "Output the result as JSON")

	journalCmd.AddCommand(listCmd, recoverCmd)
	return journalCmd
}
