package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pkgindex/registry/internal/ingest"
	"github.com/pkgindex/registry/internal/queue"
)

func newEnqueueCommand(opts *globalOptions) *cobra.Command {
	var typ, packageName, version string

	cmd := &cobra.Command{
		Use:   "enqueue FILE",
		Short: "Push an ingestion message onto the work queue",
		Long: `Validate a version or topic file and push it onto the Redis work queue
for a worker to ingest. Rd topic files need --package and --version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			payload, err := buildPayload(typ, content, packageName, version)
			if err != nil {
				return err
			}
			if _, err := ingest.Decode(typ, payload); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := opts.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			q, err := queue.NewRedisQueue(a.cfg.Queue)
			if err != nil {
				return err
			}
			defer q.Close()

			return enqueue(cmd, q, typ, payload)
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", "", "message type (version or topic)")
	cmd.Flags().StringVarP(&packageName, "package", "p", "", "package name for an Rd topic")
	cmd.Flags().StringVarP(&version, "version", "V", "", "package version for an Rd topic")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func enqueue(cmd *cobra.Command, q *queue.RedisQueue, typ string, payload []byte) error {
	successColor := color.New(color.FgGreen, color.Bold)

	msg := queue.NewMessage(typ, payload)
	if err := q.Enqueue(cmd.Context(), msg); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	successColor.Fprintf(cmd.OutOrStdout(), "✓ Enqueued %s message %s\n", typ, msg.ID)
	return nil
}
