package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

const testOrigin = "https://app.example.com"

func newTestGateway(t *testing.T) (http.Handler, *atomic.Int64) {
	t.Helper()
	h, calls, _ := newTestGatewayRedis(t)
	return h, calls
}

func newTestGatewayRedis(t *testing.T) (http.Handler, *atomic.Int64, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("X-Seen-Principal", r.Header.Get("X-Principal-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"job":`+jsonInt(n)+`}`)
	}))
	t.Cleanup(upstream.Close)

	t.Setenv("BASE_URL", testOrigin)
	t.Setenv("URL_SIGNING_SECRET", "wire-secret")
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("UPSTREAM_URL", upstream.URL)
	t.Setenv("RATE_LIMITS", "sign=30,generate=2")
	t.Setenv("RATE_ROUTES", "POST /api/generate=generate")

	cfg, err := parseConfig(t)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	gw, err := buildGateway(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(gw.Close)
	return gw.handler, &calls, mr
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func proxied(method, path, origin, user, idemKey string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(`{"prompt":"cat"}`))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if user != "" {
		req.Header.Set("X-Principal-Id", user)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return req
}

func TestGateway_HealthzReportsDistributedStore(t *testing.T) {
	h, _ := newTestGateway(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		RateLimit   bool `json:"rate_limit_ok"`
		Idempotency bool `json:"idempotency_ok"`
		Distributed bool `json:"distributed"`
		Signing     struct {
			Configured bool `json:"configured"`
		} `json:"signing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.RateLimit || !body.Idempotency || !body.Distributed || !body.Signing.Configured {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestGateway_ProxiedRouteIsRateLimited(t *testing.T) {
	h, calls := newTestGateway(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, proxied(http.MethodPost, "/api/generate", testOrigin, "u1", ""))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, proxied(http.MethodPost, "/api/generate", testOrigin, "u1", ""))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls.Load())
	}

	// outro usuário tem o próprio orçamento
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, proxied(http.MethodPost, "/api/generate", testOrigin, "u2", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for another principal, got %d", rec.Code)
	}
}

func TestGateway_ProxiedCrossOriginWriteIsBlocked(t *testing.T) {
	h, calls := newTestGateway(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, proxied(http.MethodPost, "/api/profile", "https://evil.example.com", "u1", ""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if calls.Load() != 0 {
		t.Fatalf("upstream must not be called, got %d", calls.Load())
	}
}

func TestGateway_ProxiedIdempotentReplay(t *testing.T) {
	h, calls := newTestGateway(t)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, proxied(http.MethodPost, "/api/orders", testOrigin, "u1", "order-1"))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, proxied(http.MethodPost, "/api/orders", testOrigin, "u1", "order-1"))

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", first.Code, second.Code)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls.Load())
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header on the duplicate")
	}
}

func TestGateway_Metrics(t *testing.T) {
	h, _ := newTestGateway(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for _, name := range []string{"assetgw_counter_store_fallbacks_total", "assetgw_download_slots_in_use", "go_goroutines"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Fatalf("expected %s in /metrics", name)
		}
	}
}

func TestNewProxy_RejectsRelativeURL(t *testing.T) {
	if _, err := newProxy("/just/a/path", slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error for upstream without scheme and host")
	}
}

func TestGateway_HealthzDegradedWhenRedisDies(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "100ms")
	h, _, mr := newTestGatewayRedis(t)
	mr.Close()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status      string `json:"status"`
		Distributed bool   `json:"distributed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Distributed {
		t.Fatalf("expected degraded and not distributed, got %+v", body)
	}
}

func TestGateway_UntrustedPeerCannotClaimPrincipal(t *testing.T) {
	t.Setenv("PRINCIPAL_TRUSTED_PEERS", "10.0.0.0/8")
	h, _ := newTestGateway(t)

	// httptest usa 192.0.2.1 como RemoteAddr
	rec := httptest.NewRecorder()
	req := proxied(http.MethodPost, "/assets/sign", testOrigin, "owner", "")
	req.Header.Set("X-Principal-Role", "admin")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for spoofed principal, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, proxied(http.MethodPost, "/api/profile", testOrigin, "owner", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected proxied request to pass, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Seen-Principal"); got != "" {
		t.Fatalf("expected spoofed header stripped before the upstream, got %q", got)
	}

	req = proxied(http.MethodPost, "/api/profile", testOrigin, "owner", "")
	req.RemoteAddr = "10.0.0.5:4444"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Seen-Principal"); got != "owner" {
		t.Fatalf("expected trusted peer identity forwarded, got %q", got)
	}
}
