// Package commands defines the authkeeper command line.
package commands

import (
	"github.com/bissquit/authkeeper/internal/config"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "authkeeper",
		Short:         "User authentication and role management service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to YAML config file (environment variables with prefix "+config.EnvPrefix+" override it)")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(
		newServeCommand(load),
		newMigrateCommand(load),
		newVersionCommand(),
	)

	return rootCmd
}
