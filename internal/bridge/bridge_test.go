package bridge

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"blackoutd/internal/eventbus"
	"blackoutd/internal/history"
	"blackoutd/internal/i18n"
	"blackoutd/internal/model"
	logx "blackoutd/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	items []history.Input
}

func (r *recorder) Add(_ context.Context, in history.Input) model.NotificationItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, in)
	return model.NotificationItem{}
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type alerter struct{ titles, bodies []string }

func (a *alerter) Alert(_ context.Context, title, body string) error {
	a.titles = append(a.titles, title)
	a.bodies = append(a.bodies, body)
	return nil
}

type panel struct {
	mu   sync.Mutex
	tabs []Tab
}

func (p *panel) Open(tab Tab) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tabs = append(p.tabs, tab)
}

func (p *panel) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tabs)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"push", `{"type":"PUSH_NOTIFICATION","notification":{"title":"t","message":"m"}}`, false},
		{"open", `{"type":"OPEN_NOTIFICATIONS_PANEL"}`, false},
		{"push without payload", `{"type":"PUSH_NOTIFICATION"}`, true},
		{"unknown", `{"type":"SKIP_WAITING"}`, true},
		{"garbage", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestEmergencyDedupedPerUTCDay(t *testing.T) {
	now := time.Date(2025, 1, 10, 23, 30, 0, 0, time.UTC)
	rec, al := &recorder{}, &alerter{}
	l := NewListener(rec, al, nil, i18n.New("en"), logx.Nop(), WithClock(func() time.Time { return now }))

	msg := PushNotification(Payload{Title: "Аварія", Message: "Черга 2.1", Type: "emergency_blackout", Timestamp: "2025-01-10T23:30:00Z"})
	l.Handle(context.Background(), msg)
	l.Handle(context.Background(), msg)

	if len(al.titles) != 1 || al.titles[0] != "EMERGENCY" {
		t.Fatalf("alerts=%v", al.titles)
	}
	if al.bodies[0] != "Аварія\nЧерга 2.1" {
		t.Fatalf("body=%q", al.bodies[0])
	}
	if rec.len() != 1 {
		t.Fatalf("history=%d, want 1", rec.len())
	}
	got := rec.items[0]
	if got.Type != model.TypeWarning || !got.Delivered || got.Timestamp != "2025-01-10T23:30:00Z" {
		t.Fatalf("item=%+v", got)
	}

	now = now.Add(time.Hour)
	l.Handle(context.Background(), msg)
	if len(al.titles) != 2 {
		t.Fatalf("next UTC day should alert again, alerts=%d", len(al.titles))
	}
}

func TestNonEmergencyTypesCoerced(t *testing.T) {
	rec, al := &recorder{}, &alerter{}
	l := NewListener(rec, al, nil, i18n.New("uk"), logx.Nop())
	for _, typ := range []string{"success", "warning", "mystery", ""} {
		l.Handle(context.Background(), PushNotification(Payload{Title: "x", Message: typ, Type: typ}))
	}
	want := []model.NotificationType{model.TypeSuccess, model.TypeWarning, model.TypeInfo, model.TypeInfo}
	for i, w := range want {
		if rec.items[i].Type != w {
			t.Fatalf("item %d type=%s, want %s", i, rec.items[i].Type, w)
		}
	}
	if len(al.titles) != 0 {
		t.Fatalf("non-emergency raised alerts")
	}
}

func TestOpenPanelAndRun(t *testing.T) {
	p := &panel{}
	rec := &recorder{}
	l := NewListener(rec, nil, p, i18n.New("uk"), logx.Nop())
	mb := NewChanMailbox(4)

	done := make(chan struct{})
	go func() {
		_ = l.Run(context.Background(), mb)
		close(done)
	}()
	if !mb.Post(OpenPanel()) || !mb.Post(PushNotification(Payload{Title: "a", Message: "b"})) {
		t.Fatalf("post failed")
	}
	_ = mb.Close()
	<-done

	if p.count() != 1 || p.tabs[0] != TabNotifications {
		t.Fatalf("tabs=%v", p.tabs)
	}
	if rec.len() != 1 {
		t.Fatalf("history=%d", rec.len())
	}
	if mb.Post(OpenPanel()) {
		t.Fatalf("post after close succeeded")
	}
}

func TestOpenFromURL(t *testing.T) {
	p := &panel{}
	l := NewListener(nil, nil, p, i18n.New("uk"), logx.Nop(), WithDeepLinkDelay(10*time.Millisecond))

	if l.OpenFromURL("https://app.example/?queue=2.1") {
		t.Fatalf("scheduled without query")
	}
	if !l.OpenFromURL("https://app.example/?notifications=open") {
		t.Fatalf("deep link not scheduled")
	}
	if p.count() != 0 {
		t.Fatalf("opened before delay")
	}
	deadline := time.Now().Add(time.Second)
	for p.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("panel never opened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	l.OpenFromURL("/?notifications=open")
	l.Stop()
	time.Sleep(30 * time.Millisecond)
	if p.count() != 1 {
		t.Fatalf("stopped deep link still opened")
	}
}

func TestBusPanelPublishes(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()
	BusPanel{Bus: bus}.Open(TabNotifications)
	select {
	case ev := <-ch:
		if ev.Type != eventbus.PanelOpenRequest || ev.Data != TabNotifications {
			t.Fatalf("event=%+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event")
	}
}

func TestWriterAlerter(t *testing.T) {
	var buf bytes.Buffer
	if err := (WriterAlerter{W: &buf}).Alert(context.Background(), "EMERGENCY", "title\nmsg"); err != nil {
		t.Fatalf("alert: %v", err)
	}
	if !strings.Contains(buf.String(), "🚨 EMERGENCY\n\ntitle\nmsg") {
		t.Fatalf("out=%q", buf.String())
	}
}

type fakeMQTTMessage struct{ payload []byte }

func (fakeMQTTMessage) Duplicate() bool   { return false }
func (fakeMQTTMessage) Qos() byte         { return 1 }
func (fakeMQTTMessage) Retained() bool    { return false }
func (fakeMQTTMessage) Topic() string     { return "blackoutd/bridge" }
func (fakeMQTTMessage) MessageID() uint16 { return 1 }
func (m fakeMQTTMessage) Payload() []byte { return m.payload }
func (fakeMQTTMessage) Ack()              {}

func TestMQTTMailboxDecodesPayloads(t *testing.T) {
	mb := &MQTTMailbox{cfg: MQTTConfig{Topic: "blackoutd/bridge"}, log: logx.Nop(), ch: make(chan Message, 2)}
	mb.onMessage(nil, fakeMQTTMessage{payload: []byte(`{"type":"OPEN_NOTIFICATIONS_PANEL"}`)})
	mb.onMessage(nil, fakeMQTTMessage{payload: []byte(`not json`)})

	select {
	case m := <-mb.C():
		if m.Type != TypeOpenPanel {
			t.Fatalf("type=%s", m.Type)
		}
	default:
		t.Fatalf("no message delivered")
	}
	select {
	case m := <-mb.C():
		t.Fatalf("unexpected message %+v", m)
	default:
	}
	_ = mb.Close()
	mb.onMessage(nil, fakeMQTTMessage{payload: []byte(`{"type":"OPEN_NOTIFICATIONS_PANEL"}`)})
}
