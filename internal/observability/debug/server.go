// Package debug serves the local operator endpoints: Prometheus metrics, a
// health snapshot and, optionally, pprof.
package debug

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "blackoutd/internal/runtime/supervisor"
	logx "blackoutd/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// Config controls the debug server. A non-loopback Addr requires Token.
type Config struct {
	Enabled bool
	Addr    string
	Pprof   bool
	Token   string
}

// HealthFunc returns the component snapshot served on /healthz.
type HealthFunc func() map[string]any

type Server struct {
	log    logx.Logger
	health HealthFunc

	mu     sync.Mutex
	mounts []mount
	cfg   Config
	sup   *rtsup.Supervisor
	srv   *http.Server
	bound string
	ready chan struct{}
}

type mount struct {
	pattern string
	h       http.Handler
}

func New(cfg Config, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if health == nil {
		health = func() map[string]any { return map[string]any{} }
	}
	return &Server{cfg: cfg, health: health, log: log.With(logx.String("comp", "debug"))}
}

// Mount adds h under pattern, behind the same token check as the other
// routes. It applies from the next (re)start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mu.Lock()
	s.mounts = append(s.mounts, mount{pattern: pattern, h: h})
	s.mu.Unlock()
}

// Handler builds the router for cfg.
func (s *Server) Handler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		r.Use(bearer(tok))
	}
	r.Get("/healthz", s.serveHealth)
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.HandleFunc("/", hpprof.Index)
			r.HandleFunc("/cmdline", hpprof.Cmdline)
			r.HandleFunc("/profile", hpprof.Profile)
			r.HandleFunc("/symbol", hpprof.Symbol)
			r.HandleFunc("/trace", hpprof.Trace)
			r.HandleFunc("/{profile}", hpprof.Index)
		})
	}
	s.mu.Lock()
	mounts := append([]mount(nil), s.mounts...)
	s.mu.Unlock()
	for _, m := range mounts {
		r.Mount(m.pattern, m.h)
	}
	return r
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range s.health() {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func bearer(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Reconfigure applies cfg, starting, stopping or restarting the server as
// needed. Safe to call on config reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the server under a restart loop. It is idempotent.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.ready = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("debug.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.bound = nil, nil, ""
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Debug("debug server stop cut short", logx.Err(err))
	}
	s.log.Info("debug server stopped")
}

// Addr blocks until the listener is bound and returns its address.
func (s *Server) Addr(ctx context.Context) (string, error) {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready == nil {
		return "", errors.New("debug server not started")
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound, nil
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !isLoopback(addr) {
		s.log.Error("debug server refused to start: non-loopback addr requires a token", logx.String("addr", addr))
		return context.Canceled
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("debug server listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.bound = ln.Addr().String()
	if s.ready != nil {
		select {
		case <-s.ready:
		default:
			close(s.ready)
		}
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cfg.Pprof), logx.Bool("token_set", cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return context.Canceled
	}
	return err
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
