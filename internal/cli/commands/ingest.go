package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pkgindex/registry/internal/ingest"
)

func newIngestCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a manifest or topic directly",
		Long: `Parse a file and persist it in one transaction, bypassing the queue.

Available subcommands:
  version  - Create a package version from a DESCRIPTION file or JSON manifest
  topic    - Attach a topic from an Rd file or JSON document to a version`,
	}

	cmd.AddCommand(newIngestVersionCommand(opts))
	cmd.AddCommand(newIngestTopicCommand(opts))
	return cmd
}

func newIngestVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version FILE",
		Short: "Create a package version",
		Long:  "Create a package version from a DESCRIPTION file, a JSON manifest, or stdin when FILE is -",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, ingest.TypeVersion, args[0], "", "")
		},
	}
}

func newIngestTopicCommand(opts *globalOptions) *cobra.Command {
	var packageName, version string

	cmd := &cobra.Command{
		Use:   "topic FILE",
		Short: "Attach a topic to a package version",
		Long:  "Attach a topic from an Rd file or JSON document to an existing package version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, ingest.TypeTopic, args[0], packageName, version)
		},
	}

	cmd.Flags().StringVarP(&packageName, "package", "p", "", "package name")
	cmd.Flags().StringVarP(&version, "version", "V", "", "package version")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *globalOptions, typ, path, packageName, version string) error {
	successColor := color.New(color.FgGreen, color.Bold)

	content, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	payload, err := buildPayload(typ, content, packageName, version)
	if err != nil {
		return err
	}
	req, err := ingest.Decode(typ, payload)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := opts.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.dispatcher().Dispatch(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case res.Version != nil:
		successColor.Fprintf(out, "✓ Created %s %s\n", res.Version.PackageName, res.Version.Version)
	case res.Topic != nil:
		successColor.Fprintf(out, "✓ Created topic %s\n", res.Topic.Name)
	}
	return writeDocument(out, res.Value(), formatJSON)
}

// buildPayload turns file content into a queue payload for typ. A version
// file is either a JSON manifest or DESCRIPTION text. A topic file is
// either a JSON document or Rd text; the package flags name its version
// and are required for Rd text.
func buildPayload(typ string, content []byte, packageName, version string) ([]byte, error) {
	trimmed := bytes.TrimSpace(content)
	isObject := len(trimmed) > 0 && trimmed[0] == '{'

	switch typ {
	case ingest.TypeVersion:
		if isObject || (len(trimmed) > 0 && trimmed[0] == '"') {
			return trimmed, nil
		}
		return json.Marshal(string(content))

	case ingest.TypeTopic:
		if isObject && packageName == "" && version == "" {
			return trimmed, nil
		}
		if packageName == "" || version == "" {
			return nil, errors.New("--package and --version are required")
		}

		body := map[string]any{}
		if isObject {
			if err := json.Unmarshal(trimmed, &body); err != nil {
				return nil, fmt.Errorf("invalid topic document: %w", err)
			}
		} else {
			body["rd"] = string(content)
		}
		body["package"] = map[string]string{"package": packageName, "version": version}
		return json.Marshal(body)

	default:
		return nil, fmt.Errorf("unknown type %q, want %s or %s", typ, ingest.TypeVersion, ingest.TypeTopic)
	}
}
