package cmd

import (
	"fmt"
	"io"

	"github.com/rand/docgraph/internal/diagnostics"
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "scan",
		Short: "Report structural drift",
		Long:  "Find orphaned children, dangling edges and stale ownership tags in the scope. Nothing is written.",
		Example: `
# Human-readable report
docgraph scan

# Report as JSON for scripting
docgraph scan --json
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			rt, cleanup, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := rt.scanner.Scan(cmd.Context(), rt.cfg.Scope)
			if err != nil {
				return err
			}
			if asJSON {
				return encode(cmd.OutOrStdout(), report, false)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	c.Flags().BoolP("json", "j", false, "Output as JSON")
	return c
}

func newRepairCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "repair",
		Short: "Delete drifted elements",
		Long: `Scan the scope and delete every flagged element. Removing an element can
orphan its children, so repair rescans up to --passes times until clean.`,
		Example: `
# Show what would be deleted
docgraph repair --dry-run

# Repair with up to five scan/delete passes
docgraph repair --passes 5
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			passes, _ := cmd.Flags().GetInt("passes")
			out := cmd.OutOrStdout()

			rt, cleanup, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if dryRun {
				report, err := rt.scanner.Scan(cmd.Context(), rt.cfg.Scope)
				if err != nil {
					return err
				}
				printReport(out, report)
				if !report.Clean() {
					fmt.Fprintf(out, "\nwould delete %d element(s)\n", len(report.URIs()))
				}
				return nil
			}

			report, results, err := rt.scanner.RepairUntilClean(cmd.Context(), rt.cfg.Scope, passes)
			for i, res := range results {
				fmt.Fprintf(out, "pass %d: deleted %d", i+1, res.Deleted)
				for _, category := range diagnostics.Categories {
					fmt.Fprintf(out, ", %s %d", category, res.Counts[category])
				}
				fmt.Fprintln(out)
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  failed %s: %s\n", e.URI, e.Err)
				}
			}
			if err != nil {
				return err
			}
			if !report.Clean() {
				return fmt.Errorf("drift remains after %d pass(es): %d finding(s)", len(results), report.Total())
			}
			fmt.Fprintln(out, "scope is clean")
			return nil
		},
	}
	c.Flags().BoolP("dry-run", "n", false, "Report what would be deleted without deleting")
	c.Flags().Int("passes", 3, "Maximum scan/delete passes")
	return c
}

func printReport(w io.Writer, report *diagnostics.DriftReport) {
	fmt.Fprintf(w, "scope %s: %d subjects scanned\n", report.Scope, report.Subjects)
	if report.Clean() {
		fmt.Fprintln(w, "no drift found")
		return
	}
	for _, category := range diagnostics.Categories {
		findings := report.Findings(category)
		if len(findings) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d):\n", category, len(findings))
		for _, f := range findings {
			fmt.Fprintf(w, "  %s [%s] %s\n", f.URI, f.Type, f.Reason)
		}
	}
}
