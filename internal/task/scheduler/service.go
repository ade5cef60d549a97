package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "blackoutd/pkg/logx"
)

// Job is one run of a scheduled task.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	id      cron.EntryID
	run     cron.Job
	// pending is set for RunNow entries added before Start.
	pending bool
}

// EntryInfo describes a registered entry.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup

	entries map[string]*entry
}

type Option func(*Service)

// WithLocation sets the timezone for cron expressions.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log,
		loc: time.Local,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]*entry{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins triggering. Jobs run with a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = false
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		}
	}
	s.c.Start()
	for _, e := range s.entries {
		if e.pending {
			e.pending = false
			go e.run.Run()
		}
	}
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

type addCfg struct {
	runNow bool
}

type AddOption func(*addCfg)

// RunNow fires the job once right away, in addition to the schedule.
func RunNow() AddOption { return func(c *addCfg) { c.runNow = true } }

// Add registers (or replaces) the named entry.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job, opts ...AddOption) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	var cfg addCfg
	for _, o := range opts {
		o(&cfg)
	}

	e := &entry{name: name, spec: spec, timeout: timeout}
	cl := cronLogger{log: s.log.With(logx.String("schedule", name))}
	e.run = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		s.runJob(e, job)
	}))

	s.mu.Lock()
	if old, ok := s.entries[name]; ok && s.c != nil {
		s.c.Remove(old.id)
	}
	s.entries[name] = e
	if s.c != nil {
		if err := s.registerLocked(e); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	running := s.c != nil
	e.pending = cfg.runNow && !running
	s.mu.Unlock()

	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Bool("run_now", cfg.runNow))
	if cfg.runNow && running {
		go e.run.Run()
	}
	return nil
}

func (s *Service) registerLocked(e *entry) error {
	id, err := s.c.AddJob(e.spec, e.run)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

func (s *Service) runJob(e *entry, job Job) {
	s.mu.Lock()
	if s.stopped || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	if cur, ok := s.entries[e.name]; !ok || cur != e {
		// Removed or replaced since the trigger fired.
		s.mu.Unlock()
		return
	}
	parent := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx := parent
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("scheduled job failed", logx.String("name", e.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Trace("scheduled job done", logx.String("name", e.name), logx.Duration("took", time.Since(start)))
}

// Remove unregisters the named entry. It reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	delete(s.entries, name)
	if s.c != nil {
		s.c.Remove(e.id)
	}
	return true
}

// Entries returns the registered entries sorted by name.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := EntryInfo{Name: e.name, Spec: e.spec}
		if s.c != nil {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop halts triggering, cancels running jobs and waits for them until ctx
// expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for jobs")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
