package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pkgindex/registry/internal/store"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Run and manage the embedded schema migrations.

Available subcommands:
  up       - Apply all pending migrations
  down     - Rollback the last migration
  status   - Show migration status`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback the last migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, opts)
		},
	})

	return cmd
}

func runMigrateUp(cmd *cobra.Command, opts *globalOptions) error {
	successColor := color.New(color.FgGreen, color.Bold)
	infoColor := color.New(color.FgCyan)

	ctx := cmd.Context()
	a, err := opts.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	applied, err := a.migrateUp(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if applied == 0 {
		infoColor.Fprintln(out, "No pending migrations")
		return nil
	}
	successColor.Fprintf(out, "✓ Applied %d migration(s)\n", applied)
	return nil
}

func runMigrateDown(cmd *cobra.Command, opts *globalOptions) error {
	successColor := color.New(color.FgGreen, color.Bold)

	ctx := cmd.Context()
	a, err := opts.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	migrations, err := store.Migrations()
	if err != nil {
		return err
	}
	if err := store.NewRunner(a.db, a.logger).MigrateDown(ctx, migrations); err != nil {
		return err
	}

	successColor.Fprintln(cmd.OutOrStdout(), "✓ Rolled back the last migration")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, opts *globalOptions) error {
	infoColor := color.New(color.FgCyan)
	successColor := color.New(color.FgGreen)
	warningColor := color.New(color.FgYellow)

	ctx := cmd.Context()
	a, err := opts.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	migrations, err := store.Migrations()
	if err != nil {
		return err
	}
	status, err := store.NewRunner(a.db, a.logger).Status(ctx, migrations)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	infoColor.Fprintln(out, "Migration Status:")
	fmt.Fprintln(out, strings.Repeat("-", 60))
	for _, m := range status.Applied {
		successColor.Fprintf(out, "  [applied] %04d %s\n", m.Version, m.Name)
	}
	for _, m := range status.Pending {
		warningColor.Fprintf(out, "  [pending] %04d %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out, status.Summary())
	return nil
}
