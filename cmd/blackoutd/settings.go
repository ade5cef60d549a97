package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"blackoutd/internal/app"
)

func settingsCommand(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Show or change notification settings"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the notification settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.Settings.Get())
			})
		},
	}

	set := &cobra.Command{
		Use:       "set <flag> <true|false>",
		Short:     "Change one setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"lightAlerts", "nightMode", "scheduleUpdates", "tomorrowSchedule", "silentMode"},
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("value must be true or false: %w", err)
			}
			return withApp(f, func(a *app.App) error {
				st, err := a.Settings.Set(cmd.Context(), args[0], v)
				if err != nil {
					return err
				}
				b, _ := json.Marshal(st)
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			})
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}
