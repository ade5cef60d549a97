package sysnotify

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"blackoutd/internal/metrics"
	rtsup "blackoutd/internal/runtime/supervisor"
	logx "blackoutd/pkg/logx"
)

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink
	gate  Gate

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan Notification
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, sinks []Sink, gate Gate, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gate == nil {
		gate = func() (bool, string) { return true, "" }
	}
	s := &Service{
		log:   log,
		sinks: sinks,
		gate:  gate,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetSinks replaces the delivery sinks. Queued notifications go to the new
// set.
func (s *Service) SetSinks(sinks []Sink) {
	s.mu.Lock()
	s.sinks = append([]Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "sysnotify"))))

	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("sysnotify.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Debug("sysnotify started", logx.Int("workers", s.cfg.Workers), logx.Int("sinks", len(s.sinks)))
}

// Stop stops intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)
	if sup == nil {
		return
	}
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Debug("sysnotify drain cut short", logx.Err(err))
	}
}

// Notify enqueues n. Suppressed notifications return nil.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if ok, reason := s.gate(); !ok {
		s.log.Debug("system notification suppressed", logx.String("title", n.Title), logx.String("reason", reason))
		metrics.RecordNotificationSent("gate", "suppressed")
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if window > 0 && !s.dedupAllow(dedupKey(n), window) {
		metrics.RecordNotificationSent("gate", "deduped")
		return nil
	}

	select {
	case q <- n:
		return nil
	default:
		metrics.RecordNotificationSent("gate", "dropped")
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.mu.Lock()
			sinks := append([]Sink(nil), s.sinks...)
			s.mu.Unlock()
			for _, sink := range sinks {
				s.sendWithRetry(ctx, sink, n)
			}
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, sink Sink, n Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		start := time.Now()
		err := sink.Send(callCtx, n)
		cancel()
		metrics.RecordNotificationDuration(sink.Name(), time.Since(start))
		if err == nil {
			metrics.RecordNotificationSent(sink.Name(), "sent")
			return
		}
		lastErr = err
		s.log.Debug("system notification send failed", logx.String("sink", sink.Name()), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	metrics.RecordNotificationSent(sink.Name(), "failed")
	s.log.Warn("system notification failed", logx.String("sink", sink.Name()), logx.String("title", n.Title), logx.Err(lastErr))
}

func dedupKey(n Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Title))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.Body))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1), capped.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
