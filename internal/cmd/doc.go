package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rand/docgraph/internal/graphdoc"
	"github.com/rand/docgraph/internal/lifecycle"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDocCmd() *cobra.Command {
	docCmd := &cobra.Command{
		Use:   "doc",
		Short: "Document lifecycle commands",
		Long:  "Create, replace, delete and fetch graph documents",
	}

	type writeOp func(rt *runtime, cmd *cobra.Command, doc *graphdoc.Document, parent string) (lifecycle.Result, error)
	write := func(use, short string, run writeOp) *cobra.Command {
		c := &cobra.Command{
			Use:   use + " <file>",
			Short: short,
			Example: fmt.Sprintf(`
# %[1]s a top-level document
docgraph doc %[1]s person.yaml

# %[1]s a sub-document below an existing node
docgraph doc %[1]s address.json --parent urn:person:1
`, use),
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				parent, _ := cmd.Flags().GetString("parent")
				asJSON, _ := cmd.Flags().GetBool("json")

				doc, err := readDocument(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}

				rt, cleanup, err := openRuntime(cmd)
				if err != nil {
					return err
				}
				defer cleanup()

				res, err := run(rt, cmd, doc, parent)
				printResult(cmd.OutOrStdout(), res, asJSON)
				return err
			},
		}
		c.Flags().StringP("parent", "p", "", "Attach below this Root or Branch URI")
		c.Flags().BoolP("json", "j", false, "Output the result as JSON")
		return c
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <root-uri>",
		Short: "Delete a document",
		Long:  "Delete a Root document, or a Branch sub-document with the edge linking it to its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			rt, cleanup, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := rt.orch.Delete(cmd.Context(), rt.cfg.Scope, args[0])
			printResult(cmd.OutOrStdout(), res, asJSON)
			return err
		},
	}
	deleteCmd.Flags().BoolP("json", "j", false, "Output the result as JSON")

	getCmd := &cobra.Command{
		Use:   "get <root-uri>",
		Short: "Print a stored document",
		Long:  "Reassemble a document from its ownership tags and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asYAML, _ := cmd.Flags().GetBool("yaml")

			rt, cleanup, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			doc, err := rt.orch.Get(cmd.Context(), rt.cfg.Scope, args[0])
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), doc, asYAML)
		},
	}
	getCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")

	docCmd.AddCommand(
		write("create", "Create a new document", func(rt *runtime, cmd *cobra.Command, doc *graphdoc.Document, parent string) (lifecycle.Result, error) {
			return rt.orch.Create(cmd.Context(), rt.cfg.Scope, doc, parent)
		}),
		write("update", "Replace an existing document", func(rt *runtime, cmd *cobra.Command, doc *graphdoc.Document, parent string) (lifecycle.Result, error) {
			return rt.orch.Update(cmd.Context(), rt.cfg.Scope, doc, parent)
		}),
		write("upsert", "Create or replace a document", func(rt *runtime, cmd *cobra.Command, doc *graphdoc.Document, parent string) (lifecycle.Result, error) {
			return rt.orch.Upsert(cmd.Context(), rt.cfg.Scope, doc, parent)
		}),
		deleteCmd,
		getCmd,
	)
	return docCmd
}

// readDocument parses a JSON or YAML document file; "-" reads stdin.
func readDocument(stdin io.Reader, path string) (*graphdoc.Document, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return parseDocument(data, strings.ToLower(filepath.Ext(path)))
}

func parseDocument(data []byte, ext string) (*graphdoc.Document, error) {
	var doc graphdoc.Document
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
	default:
		// YAML also accepts JSON input.
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
	}
	return &doc, nil
}

func printResult(w io.Writer, res lifecycle.Result, asJSON bool) {
	if asJSON {
		_ = encode(w, res, false)
		return
	}
	if res.Status == lifecycle.StatusFailed {
		fmt.Fprintf(w, "%s %s: %s\n", res.Status, res.Kind, res.Message)
		return
	}
	fmt.Fprintln(w, res.Message)
	if res.JournalID != "" {
		fmt.Fprintf(w, "journal entry: %s\n", res.JournalID)
	}
}

func encode(w io.Writer, v any, asYAML bool) error {
	if asYAML {
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(v)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
