package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"blackoutd/internal/app"
)

func historyCommand(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Show or manage the notification history"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				out := cmd.OutOrStdout()
				items := a.History.Items()
				if limit > 0 && len(items) > limit {
					items = items[:limit]
				}
				if len(items) == 0 {
					fmt.Fprintln(out, "no notifications")
					return nil
				}
				for _, it := range items {
					mark := " "
					if !it.Read {
						mark = "*"
					}
					fmt.Fprintf(out, "%s %s [%s] %s: %s\n", mark, it.At().Local().Format(time.DateTime), it.Type, it.Title, it.Message)
				}
				fmt.Fprintf(out, "%d unread\n", a.History.UnreadCount())
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n items")

	read := &cobra.Command{
		Use:   "read",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				a.History.MarkAllRead()
				fmt.Fprintln(cmd.OutOrStdout(), "all notifications marked read")
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the notification history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				a.History.Clear(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(list, read, clearCmd)
	return cmd
}
