package bridge

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"blackoutd/internal/eventbus"
	"blackoutd/internal/history"
	"blackoutd/internal/i18n"
	"blackoutd/internal/metrics"
	"blackoutd/internal/model"
	logx "blackoutd/pkg/logx"
)

// Tab identifies a panel tab.
type Tab string

const TabNotifications Tab = "notifications"

const deepLinkDelay = 500 * time.Millisecond

// Recorder appends to the notification history.
type Recorder interface {
	Add(ctx context.Context, in history.Input) model.NotificationItem
}

// Alerter raises a blocking, user-facing alert.
type Alerter interface {
	Alert(ctx context.Context, title, body string) error
}

// Panel opens the notifications panel UI.
type Panel interface {
	Open(tab Tab)
}

// WriterAlerter prints alerts to a terminal.
type WriterAlerter struct{ W io.Writer }

func (a WriterAlerter) Alert(_ context.Context, title, body string) error {
	_, err := fmt.Fprintf(a.W, "\a🚨 %s\n\n%s\n", title, body)
	return err
}

// BusPanel turns panel requests into bus events.
type BusPanel struct{ Bus eventbus.Bus }

func (p BusPanel) Open(tab Tab) {
	p.Bus.Publish(eventbus.Event{Type: eventbus.PanelOpenRequest, Time: time.Now(), Data: tab})
}

// Listener applies bridge messages.
type Listener struct {
	history Recorder
	alerter Alerter
	panel   Panel
	tr      i18n.Translator
	log     logx.Logger
	now     func() time.Time
	delay   time.Duration

	mu          sync.Mutex
	emergencies map[string]struct{}
	day         string
	timer       *time.Timer
}

type Option func(*Listener)

func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		if now != nil {
			l.now = now
		}
	}
}

// WithDeepLinkDelay overrides the delay before a deep link opens the panel.
func WithDeepLinkDelay(d time.Duration) Option {
	return func(l *Listener) { l.delay = d }
}

func NewListener(rec Recorder, alerter Alerter, panel Panel, tr i18n.Translator, log logx.Logger, opts ...Option) *Listener {
	l := &Listener{
		history:     rec,
		alerter:     alerter,
		panel:       panel,
		tr:          tr,
		log:         log.With(logx.String("comp", "bridge")),
		now:         time.Now,
		delay:       deepLinkDelay,
		emergencies: map[string]struct{}{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run handles messages from mb until ctx is done or mb is closed.
func (l *Listener) Run(ctx context.Context, mb Mailbox) error {
	ch := mb.C()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			l.Handle(ctx, m)
		}
	}
}

// Handle applies a single message.
func (l *Listener) Handle(ctx context.Context, m Message) {
	metrics.RecordBridgeMessage(m.Type)
	switch m.Type {
	case TypePushNotification:
		if m.Notification != nil {
			l.handlePush(ctx, *m.Notification)
		}
	case TypeOpenPanel:
		l.log.Debug("opening notifications panel")
		if l.panel != nil {
			l.panel.Open(TabNotifications)
		}
	default:
		l.log.Debug("ignore bridge message", logx.String("type", m.Type))
	}
}

func (l *Listener) handlePush(ctx context.Context, p Payload) {
	if model.IsEmergency(p.Type) {
		if !l.firstEmergency(p.Title) {
			l.log.Debug("emergency already processed today", logx.String("title", p.Title))
			return
		}
		if l.alerter != nil {
			body := p.Title + "\n" + p.Message
			if err := l.alerter.Alert(ctx, l.tr.T(i18n.Emergency), body); err != nil {
				l.log.Warn("emergency alert failed", logx.Err(err))
			}
		}
	}
	if l.history == nil {
		return
	}
	l.history.Add(ctx, history.Input{
		Title:     p.Title,
		Message:   p.Message,
		Type:      model.CoerceType(p.Type),
		Timestamp: p.Timestamp,
		Delivered: true,
	})
}

// firstEmergency records (UTC day, title) and reports whether it is new.
func (l *Listener) firstEmergency(title string) bool {
	day := l.now().UTC().Format(model.DateLayout)
	key := day + "-" + title

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.day != day {
		l.day = day
		l.emergencies = map[string]struct{}{}
	}
	if _, seen := l.emergencies[key]; seen {
		return false
	}
	l.emergencies[key] = struct{}{}
	return true
}

// OpenFromURL opens the notifications panel after a short delay when raw
// carries notifications=open. It reports whether the open was scheduled.
func (l *Listener) OpenFromURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Query().Get("notifications") != "open" {
		return false
	}
	if l.panel == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.delay, func() { l.panel.Open(TabNotifications) })
	return true
}

// Stop cancels a pending deep-link open.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
