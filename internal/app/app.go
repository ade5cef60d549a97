// Package app wires blackoutd's components from the configuration and runs
// them under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"blackoutd/internal/alerts"
	"blackoutd/internal/apiclient"
	"blackoutd/internal/bridge"
	"blackoutd/internal/config"
	"blackoutd/internal/eventbus"
	"blackoutd/internal/history"
	"blackoutd/internal/i18n"
	"blackoutd/internal/ledger"
	"blackoutd/internal/model"
	"blackoutd/internal/observability/debug"
	"blackoutd/internal/platform"
	"blackoutd/internal/push"
	rtsup "blackoutd/internal/runtime/supervisor"
	"blackoutd/internal/schedule"
	"blackoutd/internal/settings"
	"blackoutd/internal/storage"
	"blackoutd/internal/sysnotify"
	"blackoutd/internal/task/scheduler"
	"blackoutd/internal/updates"
	logx "blackoutd/pkg/logx"
)

const (
	scheduleRefresh = 15 * time.Minute
	inboxBuffer     = 32
)

// App owns every component. Open builds them without starting goroutines,
// so CLI commands can use the stores directly; Start runs the daemon.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus
	tr   i18n.Translator
	now  func() time.Time

	kv      storage.KV
	durable storage.Log

	History  *history.Store
	Settings *settings.Store
	Prefs    *settings.Preferences
	Ledger   *ledger.Store
	API      *apiclient.Client
	Notify   *sysnotify.Service
	Perms    *platform.Permissions
	Push     *push.Manager
	Schedule *schedule.Loader

	alerts   *alerts.Evaluator
	updates  *updates.Poller
	listener *bridge.Listener
	inbox    *bridge.ChanMailbox
	sched    *scheduler.Service
	debug    *debug.Server

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	mailbox bridge.Mailbox
	stopped bool
}

type options struct {
	prompt platform.Prompter
	now    func() time.Time
}

type Option func(*options)

// WithPrompter installs an interactive permission prompt.
func WithPrompter(p platform.Prompter) Option { return func(o *options) { o.prompt = p } }

// WithClock overrides the wall clock used by schedule-driven components.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Open loads the config at path and builds the components.
func Open(path string, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a := &App{
		cfgm: cfgm,
		cfg:  cfg,
		logs: logs,
		log:  log.With(logx.String("comp", "app")),
		bus:  eventbus.New(),
		tr:   i18n.New(cfg.Language),
		now:  o.now,
	}
	if err := a.build(cfg, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, o options) error {
	log := a.logs.Logger()
	sc := mapStorage(cfg)

	kv, err := storage.OpenKV(sc, log.With(logx.String("comp", "kv")))
	if err != nil {
		return fmt.Errorf("open fast store: %w", err)
	}
	a.kv = kv
	durable, err := storage.OpenLog(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open durable log: %w", err)
	}
	a.durable = durable

	a.History = history.New(kv, durable, history.WithBus(a.bus), history.WithClock(o.now), history.WithLogger(log.With(logx.String("comp", "history"))))
	a.History.Load(context.Background())
	a.Settings = settings.New(kv, durable, a.bus, log.With(logx.String("comp", "settings")))
	a.Prefs = settings.NewPreferences(kv, a.bus, log.With(logx.String("comp", "prefs")))
	a.Ledger = ledger.Open(kv, log.With(logx.String("comp", "ledger")), ledger.WithClock(o.now))

	api, err := apiclient.New(mapAPI(cfg), log.With(logx.String("comp", "api")))
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}
	a.API = api

	fallback := push.PermissionDefault
	if cfg.Push.AutoGrant {
		fallback = push.PermissionGranted
	}
	a.Perms = platform.NewPermissions(kv, o.prompt, fallback, log.With(logx.String("comp", "permissions")))

	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return err
	}
	a.Notify = sysnotify.New(mapNotifications(cfg), sinks, a.notificationGate, log.With(logx.String("comp", "sysnotify")))

	a.Schedule = schedule.New(kv, api, log, schedule.WithClock(o.now), schedule.WithBus(a.bus))
	a.alerts = alerts.New(mapAlerts(cfg), a.Settings, a.currentSchedule(o.now), a.History, a.Notify, a.tr, log)
	a.updates = updates.New(mapUpdates(cfg), api, a.Ledger, a.Settings, a.History, a.Notify, a.tr, log)

	deps := push.Deps{
		Permissions: a.Perms,
		Backend:     api,
		KV:          kv,
		History:     a.History,
		Notifier:    a.Notify,
		Queue:       a.Prefs.Queue,
		Bus:         a.bus,
		Translator:  a.tr,
		Log:         log,
	}
	if cfg.Push.Enabled {
		ring, err := platform.OpenKeyring(mapKeyring(cfg))
		if err != nil {
			return fmt.Errorf("open keyring: %w", err)
		}
		lpm, err := platform.NewLocalPushManager(kv, ring, cfg.Push.DistributorURL, log.With(logx.String("comp", "localpush")))
		if err != nil {
			return fmt.Errorf("push platform: %w", err)
		}
		deps.Platform = lpm
	}
	pcfg, _ := mapPush(cfg)
	a.Push = push.New(pcfg, deps)

	a.inbox = bridge.NewChanMailbox(inboxBuffer)
	a.listener = bridge.NewListener(a.History, bridge.WriterAlerter{W: os.Stderr}, bridge.BusPanel{Bus: a.bus}, a.tr, log)

	a.sched = scheduler.New(log.With(logx.String("comp", "scheduler")))
	a.debug = debug.New(mapDebug(cfg), a.health, log)
	a.debug.Mount("/bridge", bridge.Routes(a.inbox, a.listener, log.With(logx.String("comp", "bridge.http"))))
	return nil
}

// notificationGate allows system notifications only with a granted
// permission and silent mode off.
func (a *App) notificationGate() (bool, string) {
	if a.Perms.Current() != push.PermissionGranted {
		return false, "permission not granted"
	}
	if a.Settings.Get().SilentMode {
		return false, "silent mode"
	}
	return true, ""
}

// currentSchedule feeds the alert evaluator with the loaded schedule when it
// is today's.
func (a *App) currentSchedule(now func() time.Time) alerts.ScheduleSource {
	return func() (*model.Schedule, string) {
		res := a.Schedule.Current()
		if res.Schedule == nil || !schedule.IsToday(res.Date, now()) {
			return nil, ""
		}
		return res.Schedule, a.Prefs.QueueOrDefault()
	}
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Translator() i18n.Translator { return a.tr }

// Inbox is the in-process bridge mailbox. Local producers reach it through
// the /bridge routes of the debug server.
func (a *App) Inbox() *bridge.ChanMailbox { return a.inbox }

// OpenDeepLink opens the notifications panel when raw is a panel deep link.
func (a *App) OpenDeepLink(raw string) bool { return a.listener.OpenFromURL(raw) }

// Start launches the daemon. It is not safe to call twice.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.mu.Unlock()
	sctx := sup.Context()

	a.Notify.Start(sctx)

	if err := a.Push.Init(sctx); err != nil {
		a.log.Warn("push init failed", logx.Err(err))
	}

	if err := a.sched.Add("schedule", scheduler.Every(scheduleRefresh), 30*time.Second, a.refreshSchedule, scheduler.RunNow()); err != nil {
		return err
	}
	if err := a.alerts.Register(a.sched, a.now); err != nil {
		return err
	}
	if err := a.updates.Start(a.sched); err != nil {
		return err
	}
	if _, resync := mapPush(a.cfg); a.cfg.Push.Enabled {
		if err := a.sched.Add("push.resync", scheduler.Every(resync), 30*time.Second, a.Push.Resync); err != nil {
			return err
		}
	}
	a.sched.Start(sctx)

	sup.GoRestart("bridge.inbox", func(c context.Context) error { return a.listener.Run(c, a.inbox) })
	mb, err := a.openMailbox(sctx)
	if err != nil {
		return err
	}
	if mb != nil {
		a.mu.Lock()
		a.mailbox = mb
		a.mu.Unlock()
		sup.GoRestart("bridge.mqtt", func(c context.Context) error { return a.listener.Run(c, mb) })
	} else if !a.cfg.Debug.Enabled {
		a.log.Warn("bridge has no message source; enable debug to serve /bridge or configure bridge.mqtt")
	}

	events, unsub := a.bus.Subscribe(64)
	sup.Go("bus.dispatch", func(c context.Context) error {
		defer unsub()
		a.dispatch(c, events)
		return nil
	})

	a.watchConfig(sup)
	a.watchStore(sup)
	a.debug.Reconfigure(sctx, mapDebug(a.cfg))

	a.log.Info("blackoutd started",
		logx.String("api", a.cfg.API.BaseURL),
		logx.String("language", a.tr.Tag().String()),
		logx.String("push", string(a.Push.State())),
	)
	return nil
}

// openMailbox connects the broker mailbox. It returns nil when no broker is
// configured.
func (a *App) openMailbox(ctx context.Context) (bridge.Mailbox, error) {
	mc, ok := mapMQTT(a.cfg)
	if !ok {
		return nil, nil
	}
	mb, err := bridge.NewMQTTMailbox(ctx, mc, a.log)
	if err != nil {
		return nil, fmt.Errorf("bridge mqtt: %w", err)
	}
	return mb, nil
}

func (a *App) refreshSchedule(ctx context.Context) error {
	res := a.Schedule.Load(ctx, a.now().Format(model.DateLayout))
	a.log.Debug("schedule refreshed", logx.String("date", res.Date), logx.String("status", string(res.Status)), logx.Bool("from_cache", res.FromCache))
	return nil
}

func (a *App) dispatch(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.QueueChanged:
				if q, ok := ev.Data.(string); ok {
					a.Push.SetQueue(q)
				}
			case eventbus.PanelOpenRequest:
				a.log.Info("notifications panel requested", logx.Int("unread", a.History.UnreadCount()))
				a.History.MarkAllRead()
			}
		}
	}
}

// Done is closed when the app stops.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Stop shuts the daemon down and releases every resource.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	sup, mb := a.sup, a.mailbox
	a.mu.Unlock()

	a.updates.Stop()
	a.listener.Stop()
	a.sched.Stop(ctx)
	a.debug.Stop(ctx)
	if mb != nil {
		_ = mb.Close()
	}
	_ = a.inbox.Close()
	a.Notify.Stop(ctx)

	var err error
	if sup != nil {
		if werr := sup.Stop(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	}
	a.log.Info("blackoutd stopped")
	a.Close()
	return err
}

// Close releases stores without stopping goroutines. CLI commands call it;
// the daemon uses Stop.
func (a *App) Close() {
	if a.Push != nil {
		a.Push.Close()
	}
	if a.durable != nil {
		_ = a.durable.Close()
	}
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
