package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wasched/internal/metrics"
	logx "wasched/pkg/logx"
)

func get(t *testing.T, h http.Handler, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.DispatchTicks.WithLabelValues("ran").Inc()
	rec := get(t, Handler(Config{}, nil), "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wasched_dispatch_ticks_total") {
		t.Fatalf("metrics body lacks dispatch counter")
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ready := false
	h := Handler(Config{}, func(context.Context) (bool, map[string]any) {
		return ready, map[string]any{"backend_ready": ready}
	})

	rec := get(t, h, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d", rec.Code)
	}
	ready = true
	rec = get(t, h, "/healthz", "")
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if rec.Code != http.StatusOK || body["ok"] != true || body["backend_ready"] != true {
		t.Fatalf("code=%d body=%v", rec.Code, body)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	h := Handler(Config{Token: "s3cret"}, nil)
	cases := []struct {
		path   string
		bearer string
		want   int
	}{
		{"/healthz", "", http.StatusUnauthorized},
		{"/healthz", "nope", http.StatusUnauthorized},
		{"/healthz", "s3cret", http.StatusOK},
		{"/healthz?token=s3cret", "", http.StatusOK},
		{"/metrics", "", http.StatusUnauthorized},
	}
	for _, c := range cases {
		if rec := get(t, h, c.path, c.bearer); rec.Code != c.want {
			t.Fatalf("%s bearer=%q: code=%d want %d", c.path, c.bearer, rec.Code, c.want)
		}
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	if rec := get(t, Handler(Config{}, nil), "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof served while disabled: %d", rec.Code)
	}
	if rec := get(t, Handler(Config{Pprof: true}, nil), "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof index: %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:9090": true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:9090":  false,
		"bad":            false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v", addr, got)
		}
	}
}

func TestServiceStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	s.Start(context.Background())
	if s.Supervisor() == nil {
		t.Fatalf("not started")
	}
	s.Reconfigure(context.Background(), Config{Enabled: false})
	if s.Supervisor() != nil {
		t.Fatalf("still running after disable")
	}
}
