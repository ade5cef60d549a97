package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"blackoutd/internal/app"
	"blackoutd/internal/push"
)

func queueCommand(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Show or select the outage queue"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the selected queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				q, ok := a.Prefs.Queue()
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (default)\n", a.Prefs.QueueOrDefault())
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), q)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <queue>",
		Short: "Select a queue and sync it to the push backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.TrimSpace(args[0])
			return withApp(f, func(a *app.App) error {
				if err := a.Prefs.SetQueue(q); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue set to %s\n", q)
				return syncQueueNow(cmd.Context(), a, q)
			})
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

// syncQueueNow pushes the queue to the backend without the daemon's
// debounce, when a subscription exists.
func syncQueueNow(ctx context.Context, a *app.App, q string) error {
	if err := a.Push.Init(ctx); err != nil {
		return err
	}
	if a.Push.State() != push.StateGrantedSubscribed {
		return nil
	}
	return a.Push.SyncQueue(ctx, q)
}
