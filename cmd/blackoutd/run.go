package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"blackoutd/internal/app"
	logx "blackoutd/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func runCommand(f *rootFlags) *cobra.Command {
	var openURL string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the notification daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.Open(f.config)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return err
			}
			log := a.Logger()
			notifySystemd(log, daemon.SdNotifyReady)
			if openURL != "" && !a.OpenDeepLink(openURL) {
				log.Warn("--open ignored: not a notifications deep link", logx.String("url", openURL))
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}

			notifySystemd(log, daemon.SdNotifyStopping)
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.Stop(sctx)
		},
	}
	cmd.Flags().StringVar(&openURL, "open", "", "launch URL; ?notifications=open opens the notifications panel")
	return cmd
}

func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
