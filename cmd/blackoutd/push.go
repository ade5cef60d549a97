package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"blackoutd/internal/app"
	"blackoutd/internal/i18n"
	"blackoutd/internal/push"
)

func pushCommand(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "push", Short: "Manage the push subscription"}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the push subscription status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				if err := a.Push.Init(cmd.Context()); err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.Push.Status())
			})
		},
	}

	enable := &cobra.Command{
		Use:   "enable",
		Short: "Ask for notification permission and subscribe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opened *app.App
			prompt := interactivePrompter(func() i18n.Translator { return opened.Translator() })
			return withApp(f, func(a *app.App) error {
				opened = a
				ctx := cmd.Context()
				if err := a.Push.Init(ctx); err != nil {
					return err
				}
				if a.Push.State() == push.StateUnsupported {
					// Push is off in the config; the permission still gates
					// system notifications.
					perm, err := a.Perms.Request(ctx)
					fmt.Fprintf(cmd.OutOrStdout(), "notification permission: %s\n", perm)
					return err
				}
				if err := a.Push.RequestPermission(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "push: %s\n", a.Push.State())
				return nil
			}, app.WithPrompter(prompt))
		},
	}

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Unsubscribe from push notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				ctx := cmd.Context()
				if err := a.Push.Init(ctx); err != nil {
					return err
				}
				err := a.Push.Unsubscribe(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "push: %s\n", a.Push.State())
				return err
			})
		},
	}

	cmd.AddCommand(status, enable, disable)
	return cmd
}
