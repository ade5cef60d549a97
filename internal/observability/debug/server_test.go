package debug

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "blackoutd/pkg/logx"
)

func get(t *testing.T, h http.Handler, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutes(t *testing.T) {
	s := New(Config{}, func() map[string]any { return map[string]any{"push": "granted_subscribed"} }, logx.Nop())

	cases := []struct {
		name  string
		cfg   Config
		path  string
		auth  string
		code  int
		check string
	}{
		{"healthz", Config{}, "/healthz", "", http.StatusOK, `"push":"granted_subscribed"`},
		{"metrics", Config{}, "/metrics", "", http.StatusOK, "go_goroutines"},
		{"pprof off", Config{}, "/debug/pprof/", "", http.StatusNotFound, ""},
		{"pprof on", Config{Pprof: true}, "/debug/pprof/", "", http.StatusOK, "goroutine"},
		{"token missing", Config{Token: "s3cret"}, "/healthz", "", http.StatusUnauthorized, ""},
		{"token wrong", Config{Token: "s3cret"}, "/healthz", "Bearer nope", http.StatusUnauthorized, ""},
		{"token ok", Config{Token: "s3cret"}, "/healthz", "Bearer s3cret", http.StatusOK, `"status":"ok"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, s.Handler(tc.cfg), tc.path, tc.auth)
			if rec.Code != tc.code {
				t.Fatalf("code=%d, want %d", rec.Code, tc.code)
			}
			if tc.check != "" && !strings.Contains(rec.Body.String(), tc.check) {
				t.Fatalf("body missing %q: %s", tc.check, rec.Body.String())
			}
		})
	}
}

func TestServerLifecycle(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr, err := s.Addr(ctx)
	if err != nil {
		t.Fatalf("addr: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil || out["status"] != "ok" {
		t.Fatalf("unexpected health body %s (%v)", body, err)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatalf("server still reachable after disable")
	}
}

func TestIsLoopback(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		"0.0.0.0:6060":   false,
		":6060":          false,
		"garbage":        false,
	} {
		if got := isLoopback(addr); got != want {
			t.Fatalf("isLoopback(%q)=%v, want %v", addr, got, want)
		}
	}
}

func TestMountedRoutesShareTokenCheck(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	s.Mount("/bridge", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "bridge")
	}))

	if rec := get(t, s.Handler(Config{}), "/bridge/messages", ""); rec.Code != http.StatusOK || rec.Body.String() != "bridge" {
		t.Fatalf("code=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec := get(t, s.Handler(Config{Token: "s3cret"}), "/bridge/messages", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("mounted route skipped the token: code=%d", rec.Code)
	}
}
