package sysnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"blackoutd/internal/model"
	logx "blackoutd/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordSink struct {
	mu    sync.Mutex
	got   []Notification
	fails int
	sent  chan struct{}
}

func newRecordSink(fails int) *recordSink {
	return &recordSink{fails: fails, sent: make(chan struct{}, 16)}
}

func (*recordSink) Name() string { return "record" }

func (r *recordSink) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("temporarily down")
	}
	r.got = append(r.got, n)
	r.sent <- struct{}{}
	return nil
}

func (r *recordSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func testConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestNotifyDeliversWithRetry(t *testing.T) {
	sink := newRecordSink(2)
	s := New(testConfig(), []Sink{sink}, nil, logx.Nop())
	s.Start(context.Background())

	if err := s.Notify(context.Background(), Notification{Title: "Power off soon", Type: model.TypeWarning}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case <-sink.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("notification not delivered")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if sink.count() != 1 {
		t.Fatalf("delivered=%d, want 1", sink.count())
	}
}

func TestGateSuppresses(t *testing.T) {
	sink := newRecordSink(0)
	gate := func() (bool, string) { return false, "silent mode" }
	s := New(testConfig(), []Sink{sink}, gate, logx.Nop())
	s.Start(context.Background())

	if err := s.Notify(context.Background(), Notification{Title: "x"}); err != nil {
		t.Fatalf("suppressed notify must not error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if sink.count() != 0 {
		t.Fatalf("gate did not suppress delivery")
	}
}

func TestDedupWindow(t *testing.T) {
	sink := newRecordSink(0)
	cfg := testConfig()
	cfg.DedupWindow = time.Minute
	s := New(cfg, []Sink{sink}, nil, logx.Nop())
	s.Start(context.Background())

	n := Notification{Title: "same", Body: "body"}
	_ = s.Notify(context.Background(), n)
	_ = s.Notify(context.Background(), n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if sink.count() != 1 {
		t.Fatalf("delivered=%d, want 1", sink.count())
	}
}

func TestNotifyStates(t *testing.T) {
	s := New(Config{Enabled: false}, nil, nil, logx.Nop())
	if err := s.Notify(context.Background(), Notification{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	s2 := New(testConfig(), nil, nil, logx.Nop())
	if err := s2.Notify(context.Background(), Notification{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
