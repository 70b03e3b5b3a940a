package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/infra"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/ratelimit"
	"asset-gateway/middleware/signing"
)

const canonical = "https://app.example.com"

var pngBytes = []byte("\x89PNG fake image bytes")

type testEnv struct {
	handler http.Handler
	stats   *infra.MemoryStatsStore
	clock   *time.Time
}

type presigningObjects struct {
	*infra.MemoryObjects
}

func (p presigningObjects) PresignGet(_ context.Context, key string, opts domain.PresignOptions) (string, error) {
	return "https://s3.example.com/bucket/" + key + "?X-Amz-Expires=" + opts.TTL.String(), nil
}

func newEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := signing.LoadKey("s3cret", true, logger)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	now := time.Now()
	env := &testEnv{clock: &now}
	urls := application.NewURLAuthority(signing.New(key), "")
	urls.Now = func() time.Time { return *env.clock }

	objects := infra.NewMemoryObjects()
	objects.Put("u1/a1.png", pngBytes, "image/png")
	assets := infra.NewMemoryAssets(domain.Asset{
		ID:               "a1",
		OwnerPrincipalID: "u1",
		StorageKey:       "u1/a1.png",
		ContentType:      "image/png",
		Filename:         "cat.png",
	}, domain.Asset{ID: "ghost", OwnerPrincipalID: "u1", StorageKey: "u1/missing.png"})

	store := infra.NewMemoryCounterStore()
	limiter := application.NewWindowLimiter(store, logger)
	ledger := application.NewLedger(store, time.Minute, logger)
	guard, err := application.NewOriginGuard(canonical, false)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	env.stats = infra.NewMemoryStatsStore()

	cfg := Config{
		Access:         &application.AssetAccess{Assets: assets, Objects: objects, URLs: urls, Logger: logger},
		Health:         application.NewHealthProbe(limiter, ledger),
		Origin:         guard,
		Limiter:        limiter,
		Budgets:        ratelimit.DefaultBudgets(),
		Ledger:         ledger,
		DownloadBucket: infra.NewBucketStore(100, 100),
		DownloadSlots:  infra.NewChanPool(4),
		Stats:          env.stats,
		Logger:         logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.handler = NewRouter(NewHandler(cfg))
	return env
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func signReq(principalID, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "http://gw/assets/sign", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Origin", canonical)
	if principalID != "" {
		r.Header.Set(principal.DefaultIDHeader, principalID)
	}
	return r
}

func (e *testEnv) signURL(t *testing.T, body string) signResponse {
	t.Helper()
	w := e.do(signReq("u1", body))
	if w.Code != http.StatusOK {
		t.Fatalf("sign: expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp signResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestSignThenDownload(t *testing.T) {
	env := newEnv(t, nil)
	signed := env.signURL(t, `{"asset_id":"a1","display_mode":"attachment","expires_in":60}`)

	if signed.StableURL != "/assets/a1" || signed.DisplayMode != "attachment" {
		t.Fatalf("unexpected sign response %+v", signed)
	}
	if signed.DirectURL != "" {
		t.Fatalf("expected no direct url without presigner, got %q", signed.DirectURL)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "http://gw"+signed.URL, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", w.Code)
	}
	if w.Body.String() != string(pngBytes) {
		t.Fatalf("unexpected body %q", w.Body)
	}
	sum := sha256.Sum256(pngBytes)
	wantETag := `"` + hex.EncodeToString(sum[:]) + `"`
	checks := map[string]string{
		"Content-Type":        "image/png",
		"Content-Disposition": "attachment; filename=cat.png",
		"Cache-Control":       "private, max-age=86400",
		"ETag":                wantETag,
	}
	for k, want := range checks {
		if got := w.Header().Get(k); got != want {
			t.Fatalf("%s: expected %q, got %q", k, want, got)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "http://gw"+signed.URL, nil)
	r.Header.Set("If-None-Match", wantETag)
	w = env.do(r)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("expected 304 without body, got %d (%d bytes)", w.Code, w.Body.Len())
	}
}

func TestDownload_ExpiredAndTamperedAreIndistinguishable(t *testing.T) {
	env := newEnv(t, nil)
	signed := env.signURL(t, `{"asset_id":"a1","expires_in":1}`)

	u, _ := url.Parse(signed.URL)
	q := u.Query()
	q.Set("resource_id", "other")
	tampered := env.do(httptest.NewRequest(http.MethodGet, "http://gw/assets/download?"+q.Encode(), nil))

	*env.clock = env.clock.Add(2 * time.Second)
	expired := env.do(httptest.NewRequest(http.MethodGet, "http://gw"+signed.URL, nil))

	if tampered.Code != http.StatusForbidden || expired.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for both, got %d and %d", tampered.Code, expired.Code)
	}
	if tampered.Body.String() != expired.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", tampered.Body, expired.Body)
	}
	if got := env.stats.ByGuard()[domain.GuardToken]; got.Denied != 2 {
		t.Fatalf("expected 2 denied token stats, got %+v", got)
	}
}

func TestDownload_MissingObjectIsNotFound(t *testing.T) {
	env := newEnv(t, nil)
	signed := env.signURL(t, `{"asset_id":"ghost"}`)

	w := env.do(httptest.NewRequest(http.MethodGet, "http://gw"+signed.URL, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDownload_RedirectsToPresignedURL(t *testing.T) {
	env := newEnv(t, func(c *Config) {
		objects := presigningObjects{MemoryObjects: infra.NewMemoryObjects()}
		c.Access.Objects = objects
		c.Redirect = true
	})
	signed := env.signURL(t, `{"asset_id":"a1"}`)
	if !strings.HasPrefix(signed.DirectURL, "https://s3.example.com/bucket/u1/a1.png") {
		t.Fatalf("expected direct url, got %q", signed.DirectURL)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "http://gw"+signed.URL, nil))
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://s3.example.com/bucket/u1/a1.png") {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestSign_Authorization(t *testing.T) {
	env := newEnv(t, nil)

	cases := []struct {
		name      string
		principal string
		body      string
		want      int
	}{
		{"anonymous", "", `{"asset_id":"a1"}`, http.StatusUnauthorized},
		{"not owner", "u2", `{"asset_id":"a1"}`, http.StatusForbidden},
		{"unknown asset", "u1", `{"asset_id":"nope"}`, http.StatusNotFound},
		{"bad mode", "u1", `{"asset_id":"a1","display_mode":"download"}`, http.StatusBadRequest},
		{"bad json", "u1", `{`, http.StatusBadRequest},
		{"negative ttl", "u1", `{"asset_id":"a1","expires_in":-5}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		if w := env.do(signReq(c.principal, c.body)); w.Code != c.want {
			t.Fatalf("%s: expected %d, got %d", c.name, c.want, w.Code)
		}
	}

	r := signReq("admin-1", `{"asset_id":"a1"}`)
	r.Header.Set(principal.DefaultRoleHeader, "admin")
	if w := env.do(r); w.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", w.Code)
	}
}

func TestSign_CrossOriginIsBlocked(t *testing.T) {
	env := newEnv(t, nil)
	r := signReq("u1", `{"asset_id":"a1"}`)
	r.Header.Set("Origin", "https://evil.com")

	w := env.do(r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"error":"forbidden"}` {
		t.Fatalf("expected minimal body, got %q", w.Body)
	}
}

func TestSign_RateLimited(t *testing.T) {
	env := newEnv(t, func(c *Config) {
		c.Budgets = ratelimit.Budgets{"sign": {Max: 2, Window: time.Minute}}
	})

	for i := 0; i < 2; i++ {
		if w := env.do(signReq("u1", `{"asset_id":"a1"}`)); w.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := env.do(signReq("u1", `{"asset_id":"a1"}`))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestSign_IdempotentReplay(t *testing.T) {
	env := newEnv(t, nil)

	r1 := signReq("u1", `{"asset_id":"a1"}`)
	r1.Header.Set("Idempotency-Key", "k1")
	w1 := env.do(r1)

	*env.clock = env.clock.Add(10 * time.Second)
	r2 := signReq("u1", `{"asset_id":"a1"}`)
	r2.Header.Set("Idempotency-Key", "k1")
	w2 := env.do(r2)

	if w1.Body.String() != w2.Body.String() {
		t.Fatalf("expected replayed body, got %q and %q", w1.Body, w2.Body)
	}
	if w2.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker")
	}
}

func TestSign_ReplayDoesNotSpendBudget(t *testing.T) {
	env := newEnv(t, func(c *Config) {
		c.Budgets = ratelimit.Budgets{"sign": {Max: 1, Window: time.Minute}}
	})

	for i := 0; i < 3; i++ {
		r := signReq("u1", `{"asset_id":"a1"}`)
		r.Header.Set("Idempotency-Key", "k1")
		if w := env.do(r); w.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i+1, w.Code)
		}
	}
	if w := env.do(signReq("u1", `{"asset_id":"a1"}`)); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for a new request, got %d", w.Code)
	}
}

func TestStableEndpoint(t *testing.T) {
	env := newEnv(t, nil)

	get := func(principalID, path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "http://gw"+path, nil)
		if principalID != "" {
			r.Header.Set(principal.DefaultIDHeader, principalID)
		}
		return env.do(r)
	}

	w := get("u1", "/assets/a1?disp=attachment")
	if w.Code != http.StatusOK || w.Body.String() != string(pngBytes) {
		t.Fatalf("owner: expected 200 with bytes, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); got != "attachment; filename=cat.png" {
		t.Fatalf("unexpected disposition %q", got)
	}
	if w := get("u2", "/assets/a1"); w.Code != http.StatusForbidden {
		t.Fatalf("other: expected 403, got %d", w.Code)
	}
	if w := get("", "/assets/a1"); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", w.Code)
	}
	if w := get("u1", "/assets/nope"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown: expected 404, got %d", w.Code)
	}
	if w := get("u1", "/assets/a1?disp=x"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad disp: expected 400, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(httptest.NewRequest(http.MethodGet, "http://gw/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		RateLimitOK   bool `json:"rate_limit_ok"`
		IdempotencyOK bool `json:"idempotency_ok"`
		Distributed   bool `json:"distributed"`
		Signing       struct {
			Configured bool `json:"configured"`
		} `json:"signing"`
		Budgets map[string]healthBudget `json:"budgets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.RateLimitOK || !body.IdempotencyOK || body.Distributed || !body.Signing.Configured {
		t.Fatalf("unexpected health body %s", w.Body)
	}
	if body.Budgets["sign"].Max != 30 || body.Budgets["sign"].WindowSeconds != 60 {
		t.Fatalf("unexpected budgets %+v", body.Budgets)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestEtagMatches(t *testing.T) {
	etag := `"abc"`
	cases := map[string]bool{
		"":           false,
		`"abc"`:      true,
		`W/"abc"`:    true,
		`"x", "abc"`: true,
		"*":          true,
		`"abcd"`:     false,
	}
	for header, want := range cases {
		if got := etagMatches(header, etag); got != want {
			t.Fatalf("etagMatches(%q): expected %v, got %v", header, want, got)
		}
	}
}
