package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/chromefetch/api/handler"
	"github.com/use-agent/chromefetch/cache"
	"github.com/use-agent/chromefetch/config"
	"github.com/use-agent/chromefetch/driver"
	"github.com/use-agent/chromefetch/models"
	"github.com/use-agent/chromefetch/resolver"
	"github.com/use-agent/chromefetch/scraper"
)

type fakeFetcher struct {
	res    *scraper.Result
	err    error
	calls  int
	params scraper.Params
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, p scraper.Params) (*scraper.Result, error) {
	f.calls++
	f.params = p
	return f.res, f.err
}
func (f *fakeFetcher) Backend() driver.Backend { return driver.BackendChromeDriver }
func (f *fakeFetcher) DriverPath() string { return "/c/chromedriver" }
func (f *fakeFetcher) Busy() bool { return false }

type fakeResolver struct {
	path    string
	err     error
	root    string
	entries []resolver.CacheEntry
}

func (r *fakeResolver) Resolve(_ context.Context, root string, _ resolver.Platform) (string, error) {
	r.root = root
	return r.path, r.err
}

func (r *fakeResolver) Cached(string, resolver.Platform) ([]resolver.CacheEntry, error) {
	return r.entries, r.err
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Mode: "test"},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"k1"}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, f *fakeFetcher, r *fakeResolver, cc *cache.Cache) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, cfg, Deps{
		Fetcher:     f,
		Resolver:    r,
		DriverCache: handler.DriverCache{Root: "/cache", Platform: resolver.Linux},
		Cache:       cc,
		ProxyPools:  2,
		StartTime:   time.Now(),
	})
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoAuth(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeFetcher{}, &fakeResolver{}, nil)
	w := do(h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Backend != "chromedriver" || resp.Pools != 2 {
		t.Errorf("health = %+v", resp)
	}
}

func TestAuth(t *testing.T) {
	f := &fakeFetcher{res: &scraper.Result{HTML: "<html></html>", Attempts: 1}}
	h := newTestServer(t, testConfig(), f, &fakeResolver{}, nil)
	body := `{"url":"https://example.com/"}`

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", []string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"x-api-key", []string{"X-API-Key", "k1"}, http.StatusOK},
		{"bearer", []string{"Authorization", "Bearer k1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(h, http.MethodPost, "/api/v1/fetch", body, tt.headers...); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	h := newTestServer(t, cfg, &fakeFetcher{}, &fakeResolver{entries: nil}, nil)

	if w := do(h, http.MethodGet, "/api/v1/driver/cache", "", "X-API-Key", "k1"); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := do(h, http.MethodGet, "/api/v1/driver/cache", "", "X-API-Key", "k1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("no Retry-After header")
	}
}

func TestFetchStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"exhausted", models.NewScrapeError(models.ErrCodeExhausted, "4 attempts", nil), http.StatusBadGateway, models.ErrCodeExhausted},
		{"canceled", models.NewScrapeError(models.ErrCodeCanceled, "gone", context.Canceled), http.StatusGatewayTimeout, models.ErrCodeCanceled},
		{"invalid", models.NewScrapeError(models.ErrCodeInvalidInput, "bad url", nil), http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"resolution", models.NewDriverError(models.ErrCodeNoCompatibleDriver, "none", nil), http.StatusServiceUnavailable, models.ErrCodeNoCompatibleDriver},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, models.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, testConfig(), &fakeFetcher{err: tt.err}, &fakeResolver{}, nil)
			w := do(h, http.MethodPost, "/api/v1/fetch", `{"url":"https://example.com/"}`, "X-API-Key", "k1")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			var resp models.FetchResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestFetchValidatesBody(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeFetcher{}, &fakeResolver{}, nil)
	for _, body := range []string{`{}`, `{"url":"not a url"}`, `{"url":"https://a.b/","max_attempts":99}`, `nope`} {
		if w := do(h, http.MethodPost, "/api/v1/fetch", body, "X-API-Key", "k1"); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, w.Code)
		}
	}
}

func TestFetchPassesParamsAndCaches(t *testing.T) {
	f := &fakeFetcher{res: &scraper.Result{HTML: "<title>x</title>", Title: "x", Attempts: 2, StatusCode: 200}}
	cc := cache.New(10)
	defer cc.Close()
	h := newTestServer(t, testConfig(), f, &fakeResolver{}, cc)
	body := `{"url":"https://example.com/","max_attempts":3,"initial_delay_ms":250,"require_ok":true,"max_age_ms":60000}`

	w := do(h, http.MethodPost, "/api/v1/fetch", body, "X-API-Key", "k1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var first models.FetchResponse
	json.Unmarshal(w.Body.Bytes(), &first)
	if !first.Success || first.CacheStatus != "miss" || first.Attempts != 2 || first.Title != "x" {
		t.Errorf("first = %+v", first)
	}
	want := scraper.Params{MaxAttempts: 3, InitialDelay: 250 * time.Millisecond, RequireOK: true}
	if f.params != want {
		t.Errorf("params = %+v, want %+v", f.params, want)
	}

	w = do(h, http.MethodPost, "/api/v1/fetch", body, "X-API-Key", "k1")
	var second models.FetchResponse
	json.Unmarshal(w.Body.Bytes(), &second)
	if second.CacheStatus != "hit" || f.calls != 1 {
		t.Errorf("second = %+v, fetch calls = %d", second, f.calls)
	}
}

func TestResolveDriver(t *testing.T) {
	r := &fakeResolver{path: "/cache/120.0.6099.109/chromedriver-linux64/chromedriver"}
	h := newTestServer(t, testConfig(), &fakeFetcher{}, r, nil)

	w := do(h, http.MethodPost, "/api/v1/driver/resolve", "", "X-API-Key", "k1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp models.ResolveResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success || resp.Path != r.path || resp.Platform != "linux" || r.root != "/cache" {
		t.Errorf("resp = %+v root = %q", resp, r.root)
	}

	for _, body := range []string{`{"cache_root":"/other"}`, `not json`} {
		w = do(h, http.MethodPost, "/api/v1/driver/resolve", body, "X-API-Key", "k1")
		if w.Code != http.StatusOK || r.root != "/cache" {
			t.Errorf("body %s: status = %d root = %q, want configured /cache", body, w.Code, r.root)
		}
	}

	r.err = models.NewDriverError(models.ErrCodeBrowserNotFound, "no chrome", nil)
	w = do(h, http.MethodPost, "/api/v1/driver/resolve", "", "X-API-Key", "k1")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), models.ErrCodeBrowserNotFound) {
		t.Errorf("status = %d body = %s", w.Code, w.Body)
	}
}

func TestListDriverCache(t *testing.T) {
	r := &fakeResolver{entries: []resolver.CacheEntry{
		{Name: "119.0.6045.105", Path: "/cache/119.0.6045.105/chromedriver-linux64/chromedriver"},
		{Name: "120.0.6099.109", Path: "/cache/120.0.6099.109/chromedriver-linux64/chromedriver"},
	}}
	h := newTestServer(t, testConfig(), &fakeFetcher{}, r, nil)

	w := do(h, http.MethodGet, "/api/v1/driver/cache", "", "X-API-Key", "k1")
	var resp models.CacheListResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || len(resp.Entries) != 2 || resp.Entries[1].Version != "120.0.6099.109" {
		t.Errorf("status = %d resp = %+v", w.Code, resp)
	}
}
