// Package plant manages one owner's garden from the command line
package plant

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdant-app/verdant/internal/app"
	"github.com/verdant-app/verdant/internal/conf"
	"github.com/verdant-app/verdant/internal/garden"
)

// Command creates the plant command and its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "plant",
		Short: "Add, list, water and remove plants",
	}
	cmd.PersistentFlags().StringVarP(&owner, "owner", "o", "", "Owner of the garden")
	_ = cmd.MarkPersistentFlagRequired("owner")

	cmd.AddCommand(
		addCommand(settings, &owner),
		listCommand(settings, &owner),
		waterCommand(settings, &owner),
		deleteCommand(settings, &owner),
	)
	return cmd
}

// withStore opens the database, runs fn against the owner's store and closes
// everything again.
func withStore(settings *conf.Settings, owner string, fn func(*garden.Store) error) error {
	a, err := app.New(settings)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.Store(owner)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func addCommand(settings *conf.Settings, owner *string) *cobra.Command {
	var (
		plant   garden.Plant
		watered string
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a plant to the garden",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plant.Name = args[0]
			start, err := parseTime(watered)
			if err != nil {
				return err
			}
			return withStore(settings, *owner, func(s *garden.Store) error {
				p, err := s.Create(cmd.Context(), plant, start)
				if err != nil {
					return err
				}
				printPlants(cmd.OutOrStdout(), []garden.OwnedPlant{p})
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&plant.WateringFrequencyDays, "every", "e", 7, "Watering frequency in days")
	cmd.Flags().StringVar(&plant.ScientificName, "scientific-name", "", "Scientific name")
	cmd.Flags().StringVar(&plant.Location, "location", "", "Where the plant stands")
	cmd.Flags().StringVar(&plant.Light, "light", "", "Light requirements")
	cmd.Flags().StringVar(&watered, "watered", "", "Last watering before tracking began (RFC 3339), default now")
	return cmd
}

func listCommand(settings *conf.Settings, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the garden with current health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(settings, *owner, func(s *garden.Store) error {
				snap, err := s.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				printPlants(cmd.OutOrStdout(), snap.Plants)
				return nil
			})
		},
	}
}

func waterCommand(settings *conf.Settings, owner *string) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "water ID",
		Short: "Record a watering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseTime(at)
			if err != nil {
				return err
			}
			return withStore(settings, *owner, func(s *garden.Store) error {
				p, err := s.Water(cmd.Context(), args[0], when)
				if err != nil {
					return err
				}
				printPlants(cmd.OutOrStdout(), []garden.OwnedPlant{p})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Time of watering (RFC 3339), default now")
	return cmd
}

func deleteCommand(settings *conf.Settings, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Remove a plant from the garden",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(settings, *owner, func(s *garden.Store) error {
				if err := s.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339: %w", s, err)
	}
	return t, nil
}

func printPlants(w io.Writer, plants []garden.OwnedPlant) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEVERY\tLAST WATERED\tHEALTH")
	for _, p := range plants {
		fmt.Fprintf(tw, "%s\t%s\t%dd\t%s\t%s\n",
			p.ID,
			p.Plant.Name,
			p.Plant.WateringFrequencyDays,
			p.LastWatered.Local().Format(time.DateTime),
			p.Plant.Health)
	}
	_ = tw.Flush()
}
