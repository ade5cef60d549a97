package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"blackoutd/internal/app"
	"blackoutd/internal/i18n"
	"blackoutd/internal/platform"
)

type rootFlags struct {
	config string
}

func newRootCommand() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "blackoutd",
		Short:         "Outage schedule notifications daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "./config.json", "path to config file (json or yaml)")

	root.AddCommand(
		runCommand(f),
		historyCommand(f),
		settingsCommand(f),
		queueCommand(f),
		pushCommand(f),
		scheduleCommand(f),
	)
	return root
}

// withApp opens the app for a one-shot command and closes it afterwards.
func withApp(f *rootFlags, fn func(a *app.App) error, opts ...app.Option) error {
	a, err := app.Open(f.config, opts...)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// interactivePrompter asks through a huh dialog when stdin is a terminal.
// It returns nil otherwise, leaving the configured fallback answer.
func interactivePrompter(tr func() i18n.Translator) platform.Prompter {
	fi, err := os.Stdin.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return nil
	}
	return func(ctx context.Context) (bool, error) {
		t := tr()
		return platform.HuhPrompter(t.T(i18n.PermissionPrompt), t.T(i18n.PermissionPromptDesc), os.Stdin, os.Stderr)(ctx)
	}
}
