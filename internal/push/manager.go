// Package push manages the Web Push subscription lifecycle against the
// schedule backend: permission, platform subscription and backend record.
package push

import (
	"context"
	"errors"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"blackoutd/internal/apiclient"
	"blackoutd/internal/eventbus"
	"blackoutd/internal/history"
	"blackoutd/internal/i18n"
	"blackoutd/internal/metrics"
	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	"blackoutd/internal/sysnotify"
	logx "blackoutd/pkg/logx"
)

var (
	ErrUnsupported        = errors.New("push not supported")
	ErrPermissionDenied   = errors.New("notification permission denied")
	ErrPermissionRequired = errors.New("notification permission not granted")
	ErrClosed             = errors.New("push manager closed")
)

// notificationTypes is sent with every registration.
var notificationTypes = []string{"all"}

// Permissions is the platform permission prompt.
type Permissions interface {
	Supported() bool
	Current() Permission
	Request(ctx context.Context) (Permission, error)
}

// PushManager is the platform-level subscription holder.
type PushManager interface {
	// Subscription returns the existing subscription, or nil.
	Subscription(ctx context.Context) (*webpush.Subscription, error)
	Subscribe(ctx context.Context, applicationServerKey string) (*webpush.Subscription, error)
	Unsubscribe(ctx context.Context) error
}

// Backend is the schedule backend's subscription API.
type Backend interface {
	VAPIDKey(ctx context.Context) (string, error)
	Subscribe(ctx context.Context, req apiclient.SubscribeRequest) error
	Unsubscribe(ctx context.Context, endpoint string) error
	UpdateQueue(ctx context.Context, endpoint, queue string, types []string) error
}

type Recorder interface {
	Add(ctx context.Context, in history.Input) model.NotificationItem
}

type Notifier interface {
	Notify(ctx context.Context, n sysnotify.Notification) error
}

// QueueSource returns the selected queue, if any.
type QueueSource func() (string, bool)

type Config struct {
	// Debounce delays queue sync after a queue change.
	Debounce time.Duration
	// RetryDelay is the wait before the single retry of a transient failure.
	RetryDelay  time.Duration
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	return c
}

// syncMarker records the last queue the backend acknowledged for endpoint.
type syncMarker struct {
	Endpoint string `json:"endpoint"`
	Queue    string `json:"queue"`
}

type Deps struct {
	Permissions Permissions
	Platform    PushManager
	Backend     Backend
	KV          storage.KV
	History     Recorder
	Notifier    Notifier
	Queue       QueueSource
	Bus         eventbus.Bus
	Translator  i18n.Translator
	Log         logx.Logger
}

// Manager keeps the permission, local subscription and backend record axes
// and reconciles them.
type Manager struct {
	cfg Config
	d   Deps
	log logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// opMu serializes backend reconciliation.
	opMu sync.Mutex

	mu      sync.Mutex
	perm    Permission
	sub     *webpush.Subscription
	backend BackendRecord
	timer   *time.Timer
	closed  bool
}

func New(cfg Config, d Deps) *Manager {
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Queue == nil {
		d.Queue = func() (string, bool) { return "", false }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg.withDefaults(),
		d:       d,
		log:     d.Log.With(logx.String("comp", "push")),
		ctx:     ctx,
		cancel:  cancel,
		perm:    PermissionDefault,
		backend: RecordUnknown,
	}
}

func (m *Manager) supported() bool {
	return m.d.Permissions != nil && m.d.Platform != nil && m.d.Permissions.Supported()
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// State returns the derived state.
func (m *Manager) State() State { return m.Status().State }

func (m *Manager) statusLocked() Status {
	st := Status{
		State:      derive(m.supported(), m.perm, m.sub != nil),
		Permission: m.perm,
		Backend:    m.backend,
	}
	if m.sub != nil {
		st.Endpoint = m.sub.Endpoint
	}
	if q, ok := m.d.Queue(); ok {
		st.Queue = q
	}
	return st
}

func (m *Manager) publish() {
	m.d.Bus.Publish(eventbus.Event{Type: eventbus.PushStateChanged, Time: time.Now(), Data: m.Status()})
}

func (m *Manager) subscription() *webpush.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub
}

func (m *Manager) setBackend(r BackendRecord) {
	m.mu.Lock()
	m.backend = r
	m.mu.Unlock()
}

// Init reads the platform state. An existing subscription is re-registered
// with the backend so a backend wipe heals on startup.
func (m *Manager) Init(ctx context.Context) error {
	if !m.supported() {
		m.log.Info("push notifications not supported")
		return nil
	}
	perm := m.d.Permissions.Current()
	sub, err := m.d.Platform.Subscription(ctx)
	if err != nil {
		m.log.Error("read push subscription failed", logx.Err(err))
	}
	m.mu.Lock()
	m.perm = perm
	m.sub = sub
	m.mu.Unlock()
	defer m.publish()

	if sub == nil {
		return nil
	}
	queue, _ := m.d.Queue()
	if err := m.register(ctx, *sub, queue); err != nil {
		m.log.Warn("defensive re-register failed", logx.String("endpoint", sub.Endpoint), logx.Err(err))
	}
	return nil
}

// RequestPermission prompts for permission and, when granted, subscribes and
// confirms with a system notification. Denial is terminal; later calls
// return ErrPermissionDenied without prompting.
func (m *Manager) RequestPermission(ctx context.Context) error {
	if !m.supported() {
		return ErrUnsupported
	}
	m.mu.Lock()
	cur := m.perm
	m.mu.Unlock()
	if cur == PermissionDenied {
		return ErrPermissionDenied
	}

	res, err := m.d.Permissions.Request(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.perm = res
	m.mu.Unlock()

	switch res {
	case PermissionDenied:
		m.publish()
		return ErrPermissionDenied
	case PermissionGranted:
	default:
		m.publish()
		return nil
	}

	subErr := m.Subscribe(ctx)
	if m.d.Notifier != nil {
		tr := m.d.Translator
		n := sysnotify.Notification{Title: tr.T(i18n.NotificationsEnabled), Body: tr.T(i18n.NotificationsEnabledMessage), Type: model.TypeSuccess}
		if err := m.d.Notifier.Notify(ctx, n); err != nil {
			m.log.Debug("confirmation notification not shown", logx.Err(err))
		}
	}
	return subErr
}

// Subscribe ensures a platform subscription exists and registers it with the
// backend. An existing subscription is reused.
func (m *Manager) Subscribe(ctx context.Context) error {
	if !m.supported() {
		return ErrUnsupported
	}
	m.mu.Lock()
	perm, sub := m.perm, m.sub
	m.mu.Unlock()
	if perm != PermissionGranted {
		return ErrPermissionRequired
	}

	if sub == nil {
		existing, err := m.d.Platform.Subscription(ctx)
		if err != nil {
			return err
		}
		sub = existing
	}
	if sub == nil {
		key, err := m.d.Backend.VAPIDKey(ctx)
		if err != nil {
			return err
		}
		created, err := m.d.Platform.Subscribe(ctx, key)
		if err != nil {
			return err
		}
		sub = created
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	defer m.publish()

	queue, _ := m.d.Queue()
	if err := m.register(ctx, *sub, queue); err != nil {
		// The platform subscription stands; Resync keeps trying.
		return err
	}
	m.record(ctx, i18n.SubscriptionActivated, i18n.SubscriptionActivatedDesc, model.TypeSuccess)
	return nil
}

// Unsubscribe removes the platform subscription first, then the backend
// record. Local state is cleared even when either step fails.
func (m *Manager) Unsubscribe(ctx context.Context) error {
	if !m.supported() {
		return ErrUnsupported
	}
	sub := m.subscription()
	if sub == nil {
		m.log.Warn("no push subscription to unsubscribe from")
		return nil
	}

	m.mu.Lock()
	if m.timer != nil && m.timer.Stop() {
		m.wg.Done()
	}
	m.timer = nil
	m.mu.Unlock()

	platformErr := m.d.Platform.Unsubscribe(ctx)
	if platformErr != nil {
		m.log.Error("platform unsubscribe failed", logx.Err(platformErr))
	}

	m.opMu.Lock()
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	backendErr := m.d.Backend.Unsubscribe(cctx, sub.Endpoint)
	cancel()
	m.opMu.Unlock()
	outcome := Classify(backendErr)
	metrics.RecordPushCall(string(opUnregister), string(outcome))
	if recoveryFor(opUnregister, outcome) == ActionLogOnly {
		m.log.Error("backend unsubscribe failed", logx.String("endpoint", sub.Endpoint), logx.Err(backendErr))
	}

	m.mu.Lock()
	m.sub = nil
	m.backend = RecordUnknown
	m.mu.Unlock()
	m.clearMarker()
	m.publish()

	if platformErr == nil {
		m.record(ctx, i18n.SubscriptionDeactivated, i18n.SubscriptionDeactivatedDesc, model.TypeInfo)
	}
	if outcome == OutcomeNotFound {
		backendErr = nil
	}
	return errors.Join(platformErr, backendErr)
}

// SetQueue schedules a backend queue update after the debounce delay.
// Newer calls replace pending ones.
func (m *Manager) SetQueue(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.sub == nil || queue == "" {
		return
	}
	if m.timer != nil && m.timer.Stop() {
		m.wg.Done()
	}
	m.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(m.cfg.Debounce, func() {
		defer m.wg.Done()
		m.mu.Lock()
		current := m.timer == t
		if current {
			m.timer = nil
		}
		m.mu.Unlock()
		if !current {
			return
		}
		if err := m.SyncQueue(m.ctx, queue); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("queue sync failed", logx.String("queue", queue), logx.Err(err))
		}
	})
	m.timer = t
}

// SyncQueue sends queue to the backend now, recovering from a missing
// backend record by re-registering the existing subscription.
func (m *Manager) SyncQueue(ctx context.Context, queue string) error {
	sub := m.subscription()
	if sub == nil {
		return nil
	}
	if mk, ok := m.marker(); ok && mk.Endpoint == sub.Endpoint && mk.Queue == queue && m.Status().Backend == RecordPresent {
		return nil
	}

	err := m.call(ctx, opUpdateQueue, func(c context.Context) error {
		return m.d.Backend.UpdateQueue(c, sub.Endpoint, queue, notificationTypes)
	})
	outcome := Classify(err)
	switch action := recoveryFor(opUpdateQueue, outcome); action {
	case ActionNone:
	case ActionReRegister:
		m.log.Warn("backend lost subscription, re-registering", logx.String("endpoint", sub.Endpoint))
		m.setBackend(RecordMissing)
		metrics.RecordPushRecovery(string(action))
		if rerr := m.register(ctx, *sub, queue); rerr != nil {
			m.log.Error("re-register failed", logx.Err(rerr))
			return rerr
		}
		m.record(ctx, i18n.SubscriptionRestored, i18n.SubscriptionRestoredDesc, model.TypeSuccess)
		err = m.call(ctx, opUpdateQueue, func(c context.Context) error {
			return m.d.Backend.UpdateQueue(c, sub.Endpoint, queue, notificationTypes)
		})
	case ActionRetryOnce:
		metrics.RecordPushRecovery(string(action))
		if werr := m.wait(ctx); werr != nil {
			return werr
		}
		err = m.call(ctx, opUpdateQueue, func(c context.Context) error {
			return m.d.Backend.UpdateQueue(c, sub.Endpoint, queue, notificationTypes)
		})
	case ActionLogOnly:
		m.log.Error("queue update rejected", logx.String("queue", queue), logx.Err(err))
		return err
	}
	if err != nil {
		return err
	}
	m.setBackend(RecordPresent)
	m.setMarker(syncMarker{Endpoint: sub.Endpoint, Queue: queue})
	m.log.Debug("queue synced", logx.String("queue", queue))
	return nil
}

// Resync re-registers the local subscription when the backend record is not
// known to be present. It is run periodically.
func (m *Manager) Resync(ctx context.Context) error {
	sub := m.subscription()
	if sub == nil || m.Status().Backend == RecordPresent {
		return nil
	}
	queue, _ := m.d.Queue()
	return m.register(ctx, *sub, queue)
}

// register upserts sub with the backend, retrying once on a transient
// failure. The backend axis is only raised to present here; failures leave
// it as it was.
func (m *Manager) register(ctx context.Context, sub webpush.Subscription, queue string) error {
	req := apiclient.NewSubscribeRequest(sub, queue, notificationTypes)
	err := m.call(ctx, opRegister, func(c context.Context) error { return m.d.Backend.Subscribe(c, req) })
	if action := recoveryFor(opRegister, Classify(err)); action == ActionRetryOnce {
		metrics.RecordPushRecovery(string(action))
		m.log.Warn("push registration failed, retrying", logx.Err(err))
		if werr := m.wait(ctx); werr != nil {
			return werr
		}
		err = m.call(ctx, opRegister, func(c context.Context) error { return m.d.Backend.Subscribe(c, req) })
	}
	if err != nil {
		return err
	}
	m.setBackend(RecordPresent)
	m.setMarker(syncMarker{Endpoint: sub.Endpoint, Queue: queue})
	return nil
}

func (m *Manager) call(ctx context.Context, name op, fn func(context.Context) error) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	err := fn(cctx)
	metrics.RecordPushCall(string(name), string(Classify(err)))
	return err
}

func (m *Manager) wait(ctx context.Context) error {
	t := time.NewTimer(m.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

func (m *Manager) record(ctx context.Context, titleKey, msgKey string, typ model.NotificationType) {
	if m.d.History == nil {
		return
	}
	tr := m.d.Translator
	m.d.History.Add(ctx, history.Input{Title: tr.T(titleKey), Message: tr.T(msgKey), Type: typ})
}

func (m *Manager) marker() (syncMarker, bool) {
	var mk syncMarker
	if m.d.KV == nil {
		return mk, false
	}
	ok, err := storage.GetJSON(m.d.KV, storage.KeyPushQueueSync, &mk)
	if err != nil {
		m.log.Debug("read queue sync marker failed", logx.Err(err))
		return mk, false
	}
	return mk, ok
}

func (m *Manager) setMarker(mk syncMarker) {
	if m.d.KV == nil {
		return
	}
	if err := storage.SetJSON(m.d.KV, storage.KeyPushQueueSync, mk); err != nil {
		m.log.Warn("write queue sync marker failed", logx.Err(err))
	}
}

func (m *Manager) clearMarker() {
	if m.d.KV == nil {
		return
	}
	if err := m.d.KV.Delete(storage.KeyPushQueueSync); err != nil {
		m.log.Warn("clear queue sync marker failed", logx.Err(err))
	}
}

// Close cancels pending queue syncs and waits for running ones.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil && m.timer.Stop() {
		m.wg.Done()
	}
	m.timer = nil
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}
