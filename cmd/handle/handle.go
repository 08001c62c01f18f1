// Package handle administers the handle registry from the command line
package handle

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verdant-app/verdant/internal/app"
	"github.com/verdant-app/verdant/internal/conf"
	"github.com/verdant-app/verdant/internal/handles"
)

// Command creates the handle command and its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handle",
		Short: "Claim, release, rename and look up handles",
	}
	run := func(fn func(context.Context, *cobra.Command, *handles.Registry, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd.Context(), cmd, a.Handles(), args)
		}
	}

	var limit int
	search := &cobra.Command{
		Use:   "search PREFIX",
		Short: "List handles starting with PREFIX",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, cmd *cobra.Command, r *handles.Registry, args []string) error {
			found, err := r.Search(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, h := range found {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		}),
	}
	search.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of handles")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "claim HANDLE USER",
			Short: "Give HANDLE to USER",
			Args:  cobra.ExactArgs(2),
			RunE: run(func(ctx context.Context, cmd *cobra.Command, r *handles.Registry, args []string) error {
				if err := r.Claim(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s claimed by %s\n", handles.Normalize(args[0]), args[1])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "release HANDLE",
			Short: "Free HANDLE",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, cmd *cobra.Command, r *handles.Registry, args []string) error {
				return r.Release(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "rename OLD NEW USER",
			Short: "Move USER from OLD to NEW in one step",
			Args:  cobra.ExactArgs(3),
			RunE: run(func(ctx context.Context, cmd *cobra.Command, r *handles.Registry, args []string) error {
				if err := r.Rename(ctx, args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[2], handles.Normalize(args[1]))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "resolve HANDLE",
			Short: "Print the user holding HANDLE",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, cmd *cobra.Command, r *handles.Registry, args []string) error {
				uid, ok, err := r.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: %w", handles.Normalize(args[0]), handles.ErrNotFound)
				}
				fmt.Fprintln(cmd.OutOrStdout(), uid)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "available HANDLE",
			Short: "Report whether HANDLE can be claimed",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, cmd *cobra.Command, r *handles.Registry, args []string) error {
				ok, err := r.IsAvailable(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			}),
		},
		search,
	)
	return cmd
}
