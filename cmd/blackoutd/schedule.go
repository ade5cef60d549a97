package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"blackoutd/internal/app"
	"blackoutd/internal/i18n"
	"blackoutd/internal/model"
	"blackoutd/internal/schedule"
)

func scheduleCommand(f *rootFlags) *cobra.Command {
	var (
		date  string
		queue string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show the outage schedule",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print outage windows for a date and queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(a *app.App) error {
				out := cmd.OutOrStdout()
				tr := a.Translator()
				d := date
				if d == "" {
					d = time.Now().Format(model.DateLayout)
				}
				q := queue
				if q == "" {
					q = a.Prefs.QueueOrDefault()
				}

				res := a.Schedule.Load(cmd.Context(), d)
				if key := res.Status.MessageKey(); key != "" {
					fmt.Fprintf(out, "%s: %s\n", d, tr.T(key))
					return nil
				}
				if res.FromCache {
					fmt.Fprintf(out, "(%s, %s)\n", tr.T(i18n.SavedVersion), res.CachedAt.Local().Format(time.DateTime))
				}
				if res.Unavailable {
					fmt.Fprintf(out, "(%s)\n", tr.T(i18n.ServerUnavailable))
				}
				return printQueue(cmd, res, q)
			})
		},
	}
	show.Flags().StringVarP(&date, "date", "d", "", "date as YYYY-MM-DD (default today)")
	show.Flags().StringVarP(&queue, "queue", "q", "", "queue id (default the selected queue)")

	dates := &cobra.Command{
		Use:   "dates",
		Short: "List yesterday, today and tomorrow",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, d := range schedule.ThreeDayRange(time.Now()) {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
		},
	}

	cmd.AddCommand(show, dates)
	return cmd
}

func printQueue(cmd *cobra.Command, res schedule.Result, q string) error {
	out := cmd.OutOrStdout()
	qd := res.Schedule.Queue(q)
	if qd == nil {
		return fmt.Errorf("queue %s not found in schedule for %s", q, res.Date)
	}
	fmt.Fprintf(out, "%s, queue %s\n", res.Schedule.Date, q)
	if len(qd.Intervals) == 0 {
		fmt.Fprintln(out, "  no outages")
		return nil
	}
	for _, iv := range qd.Intervals {
		fmt.Fprintf(out, "  %s - %s\n", iv.Start, iv.End)
	}
	return nil
}
