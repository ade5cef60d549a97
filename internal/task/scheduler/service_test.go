package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "blackoutd/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"60s", "@every 1m0s", false},
		{"5m", "@every 5m0s", false},
		{"every:90s", "@every 1m30s", false},
		{"@every 1m", "@every 1m", false},
		{"*/5 * * * *", "*/5 * * * *", false},
		{"cron:@hourly", "@hourly", false},
		{"", "", true},
		{"-5m", "", true},
		{"soon", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSchedule(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q err=%v, want %q", got, err, tc.want)
			}
		})
	}
}

func TestRunNowAndRemove(t *testing.T) {
	s := New(logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var runs atomic.Int32
	ran := make(chan struct{}, 1)
	err := s.Add("poll", "1h", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, RunNow())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("run-now did not fire")
	}
	if len(s.Entries()) != 1 {
		t.Fatalf("expected one entry")
	}
	if !s.Remove("poll") || s.Remove("poll") {
		t.Fatalf("remove should succeed once")
	}
	if runs.Load() != 1 {
		t.Fatalf("runs=%d, want 1", runs.Load())
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(logx.Nop())
	s.Start(context.Background())

	started := make(chan struct{})
	canceled := make(chan struct{})
	_ = s.Add("slow", "1h", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}, RunNow())

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	select {
	case <-canceled:
	default:
		t.Fatalf("job context not canceled on stop")
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	s := New(logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Add("", "1m", 0, noop); err == nil {
		t.Fatalf("expected name error")
	}
	if err := s.Add("x", "bogus", 0, noop); err == nil {
		t.Fatalf("expected schedule error")
	}
	if err := s.Add("x", "1m", 0, nil); err == nil {
		t.Fatalf("expected job error")
	}
}

func TestRunNowBeforeStartFiresOnStart(t *testing.T) {
	s := New(logx.Nop())
	ran := make(chan struct{}, 1)
	if err := s.Add("early", "1h", time.Second, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, RunNow()); err != nil {
		t.Fatalf("add: %v", err)
	}
	select {
	case <-ran:
		t.Fatalf("job ran before start")
	case <-time.After(50 * time.Millisecond):
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("pending run-now did not fire on start")
	}
}
