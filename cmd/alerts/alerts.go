// Package alerts reads and prunes the recorded care alert history
package alerts

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdant-app/verdant/internal/app"
	"github.com/verdant-app/verdant/internal/conf"
)

// Command creates the alerts command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show or prune recorded care alerts",
	}

	var (
		owner string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List an owner's alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.Alerts().List(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tPLANT\tSTATUS\tPREVIOUS")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.At.Local().Format(time.DateTime), ev.PlantName, ev.Status, ev.Previous)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVarP(&owner, "owner", "o", "", "Owner of the garden")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of alerts")
	_ = list.MarkFlagRequired("owner")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete alerts older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = settings.Care.AlertRetention
			}
			if olderThan <= 0 {
				return fmt.Errorf("no retention configured, pass --older-than")
			}
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Alerts().Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d alerts\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff, default care.alertretention")

	cmd.AddCommand(list, prune)
	return cmd
}
