package commands

import (
	"github.com/bissquit/authkeeper/internal/config"
	"github.com/bissquit/authkeeper/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand(load func() (*config.Config, error)) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Args:  cobra.NoArgs,
		Short: "Apply pending database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Database.MigrationsPath
			}
			return postgres.Migrate(cfg.Database.URL, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to database.migrations_path)")

	return cmd
}
