package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pkgindex/registry/internal/registry"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func newShowCommand(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show NAME VERSION",
		Short: "Print the enriched document of a package version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != formatJSON && output != formatYAML {
				return fmt.Errorf("--output must be json or yaml, got: %s", output)
			}

			ctx := cmd.Context()
			a, err := opts.openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			doc, found, err := a.reader().FindByNameVersion(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !found {
				return registry.NotFound("show", map[string]string{
					"package_name": args[0],
					"version":      args[1],
				})
			}
			return writeDocument(cmd.OutOrStdout(), doc, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatJSON, "output format (json or yaml)")
	return cmd
}

// writeDocument writes v as indented JSON or as YAML. YAML goes through
// the JSON encoding so both formats share field names.
func writeDocument(w io.Writer, v any, format string) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if format == formatJSON {
		_, err = fmt.Fprintln(w, string(body))
		return err
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return enc.Close()
}
