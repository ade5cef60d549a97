package app

import (
	"context"

	"blackoutd/internal/config"
	rtsup "blackoutd/internal/runtime/supervisor"
	logx "blackoutd/pkg/logx"
)

// watchConfig follows the config file and applies reloads in place.
func (a *App) watchConfig(sup *rtsup.Supervisor) {
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := buildSinks(cfg, logx.Nop())
		return err
	})
	sub := a.cfgm.Subscribe(4)
	sup.GoRestart("config.watch", a.cfgm.Watch)
	sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(ctx, cfg)
			}
		}
	})
}

// applyConfig applies the hot sections of cfg and reports the rest.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	changed, fields := config.SummarizeChange(prev, cfg)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(mapLogging(cfg))
		case "notifications":
			sinks, err := buildSinks(cfg, a.logs.Logger())
			if err != nil {
				a.log.Warn("notification sinks not reloaded", logx.Err(err))
				break
			}
			a.Notify.SetSinks(sinks)
			a.Notify.Apply(mapNotifications(cfg))
			a.Notify.Start(ctx)
		case "debug":
			a.debug.Reconfigure(ctx, mapDebug(cfg))
		}
	}

	fields = append(fields, logx.Strings("changed", changed))
	if restart := config.RestartRequired(changed); len(restart) > 0 {
		fields = append(fields, logx.Strings("restart_required", restart))
	}
	a.log.Info("config applied", fields...)
}
