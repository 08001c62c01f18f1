// Package cmd assembles the verdant command line
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/verdant-app/verdant/cmd/alerts"
	"github.com/verdant-app/verdant/cmd/config"
	"github.com/verdant-app/verdant/cmd/handle"
	"github.com/verdant-app/verdant/cmd/plant"
	"github.com/verdant-app/verdant/cmd/serve"
	"github.com/verdant-app/verdant/internal/conf"
)

// RootCommand creates and returns the root command. Subcommands share
// settings, which are filled in before any of them runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "verdant",
		Short:         "Verdant garden engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("db", "", "Path to the sqlite database")
	if err := bindFlags(rootCmd); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		plant.Command(settings),
		handle.Command(settings),
		alerts.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		version := settings.Version
		*settings = *loaded
		settings.Version = version
		return nil
	}

	return rootCmd
}

// bindFlags maps persistent flags onto configuration keys so a flag set on
// the command line overrides the file and the environment.
func bindFlags(rootCmd *cobra.Command) error {
	for key, flag := range map[string]string{
		"debug":                "debug",
		"database.sqlite.path": "db",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
