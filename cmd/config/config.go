// Package config prints the effective configuration
package config

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/verdant-app/verdant/internal/conf"
)

const redacted = "[REDACTED]"

// Command creates the config command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML, secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(Redact(settings)); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

// Redact returns a copy of s with credentials replaced
func Redact(s *conf.Settings) conf.Settings {
	out := *s
	if out.Database.MySQL.Password != "" {
		out.Database.MySQL.Password = redacted
	}
	if out.Telemetry.DSN != "" {
		out.Telemetry.DSN = redacted
	}
	out.Warnings = nil
	return out
}
