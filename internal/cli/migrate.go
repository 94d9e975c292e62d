package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"retouch/internal/infra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	var dir string
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")

	up := &cobra.Command{
		Use:          "up",
		Short:        "Apply every pending migration",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if err := infra.RunMigrations(cfg.DatabaseURL, pick(dir, cfg.MigrationsDir)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:          "down",
		Short:        "Roll back the most recent migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if err := infra.RollbackMigrations(cfg.DatabaseURL, pick(dir, cfg.MigrationsDir), steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
