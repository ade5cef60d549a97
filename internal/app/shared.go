package app

import (
	"context"
	"strings"

	rtsup "blackoutd/internal/runtime/supervisor"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

// watchStore follows fast-store writes made by other processes on the same
// host (the CLI, a second daemon) and refreshes the components caching them.
func (a *App) watchStore(sup *rtsup.Supervisor) {
	shared, ok := a.kv.(storage.Shared)
	if !ok {
		return
	}
	sup.GoRestart("kv.watch", func(ctx context.Context) error {
		return shared.Watch(ctx, func(keys []string) { a.applyStoreChanges(ctx, keys) })
	})
}

func (a *App) applyStoreChanges(ctx context.Context, keys []string) {
	a.log.Debug("fast store changed by another process", logx.String("keys", strings.Join(keys, ",")))
	var pushChanged bool
	for _, k := range keys {
		switch k {
		case storage.KeySettings:
			a.Settings.Reload()
		case storage.KeyUserQueue:
			a.Prefs.Reload()
		case storage.KeyHistory:
			a.History.Reload()
		case storage.KeyPermission, storage.KeyPushSubscription:
			pushChanged = true
		}
	}
	if pushChanged {
		if err := a.Push.Init(ctx); err != nil {
			a.log.Warn("push state refresh failed", logx.Err(err))
		}
	}
}
