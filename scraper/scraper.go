// Package scraper fetches rendered pages through rotating proxies, retrying
// with exponential backoff when a proxy serves an error page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/chromefetch/config"
	"github.com/use-agent/chromefetch/driver"
	"github.com/use-agent/chromefetch/models"
	"github.com/use-agent/chromefetch/proxy"
	"github.com/use-agent/chromefetch/resolver"
)

// DriverResolver returns the path of a chromedriver executable.
type DriverResolver interface {
	Resolve(ctx context.Context, cacheRoot string, p resolver.Platform) (string, error)
}

// ProxySource yields one proxy URI per call.
type ProxySource interface {
	Next() string
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config controls a Fetcher.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	RequireOK    bool

	CacheRoot string
	Platform  resolver.Platform
	Driver    driver.Options
}

// FromConfig builds a Fetcher configuration from the application config.
func FromConfig(cfg *config.Config) (Config, error) {
	p, err := resolver.ParsePlatform(cfg.Resolver.Platform)
	if err != nil && driver.Backend(cfg.Driver.Backend) != driver.BackendRod {
		return Config{}, err
	}
	return Config{
		MaxAttempts:  cfg.Scrape.MaxAttempts,
		InitialDelay: cfg.Scrape.InitialDelay,
		RequireOK:    cfg.Scrape.RequireOK,
		CacheRoot:    cfg.Resolver.CacheRoot,
		Platform:     p,
		Driver:       driver.OptionsFromConfig(cfg.Driver),
	}, nil
}

// Params override the configured retry policy for one call. Zero values keep
// the configured setting.
type Params struct {
	MaxAttempts  int
	InitialDelay time.Duration
	RequireOK    bool
}

// Fetcher runs the fetch loop. One loop runs at a time; concurrent callers
// queue on an internal lock.
type Fetcher struct {
	mu       sync.Mutex
	busy     atomic.Bool
	cfg      Config
	resolver DriverResolver
	proxies  ProxySource
	acquire  driver.Factory
	sleep    SleepFunc

	pathMu     sync.RWMutex
	driverPath string
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithFactory replaces driver.Acquire.
func WithFactory(f driver.Factory) Option {
	return func(fe *Fetcher) { fe.acquire = f }
}

// WithSleep replaces the inter-attempt wait.
func WithSleep(s SleepFunc) Option {
	return func(fe *Fetcher) { fe.sleep = s }
}

// NewFetcher creates a Fetcher. proxies may be nil to fetch without a proxy.
func NewFetcher(cfg Config, res DriverResolver, proxies ProxySource, opts ...Option) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	f := &Fetcher{
		cfg:      cfg,
		resolver: res,
		proxies:  proxies,
		acquire:  driver.Acquire,
		sleep:    Wait,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DriverPath is the resolved driver executable, empty until the first fetch.
func (f *Fetcher) DriverPath() string {
	f.pathMu.RLock()
	defer f.pathMu.RUnlock()
	return f.driverPath
}

// Busy reports whether a fetch loop is running.
func (f *Fetcher) Busy() bool {
	return f.busy.Load()
}

// Backend is the configured driver backend.
func (f *Fetcher) Backend() driver.Backend {
	if f.cfg.Driver.Backend == "" {
		return driver.BackendChromeDriver
	}
	return f.cfg.Driver.Backend
}

// FetchWithRetry fetches rawURL with the configured retry policy.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*Result, error) {
	return f.Fetch(ctx, rawURL, Params{})
}

// Fetch runs the loop: wait, acquire a driver on the next proxy, load the
// page, classify it. Error pages double the delay; failed acquisitions,
// failed loads and empty pages retry with the delay unchanged. Driver
// resolution failures are returned as they are. Running out of attempts
// yields a SCRAPE_EXHAUSTED error wrapping the last attempt's failure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, p Params) (*Result, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	maxAttempts := f.cfg.MaxAttempts
	if p.MaxAttempts > 0 {
		maxAttempts = p.MaxAttempts
	}
	delay := f.cfg.InitialDelay
	if p.InitialDelay > 0 {
		delay = p.InitialDelay
	}
	requireOK := f.cfg.RequireOK || p.RequireOK

	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy.Store(true)
	defer f.busy.Store(false)

	execPath, err := f.ensureDriverPath(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := f.sleep(ctx, delay); err != nil {
			return nil, canceled(err)
		}

		page, err := f.attempt(ctx, rawURL, execPath, requireOK)
		if ctx.Err() != nil {
			return nil, canceled(ctx.Err())
		}
		if err != nil {
			slog.Warn("fetch attempt failed",
				"url", rawURL, "attempt", attempt, "proxy", proxy.Redact(page.proxy), "error", err)
			lastErr = err
			continue
		}

		v := Classify(page.html)
		switch {
		case v.Empty:
			slog.Warn("fetch attempt returned empty page",
				"url", rawURL, "attempt", attempt, "proxy", proxy.Redact(page.proxy))
			lastErr = models.NewScrapeError(models.ErrCodeFetch, "empty page source", nil)
			continue
		case v.Failed():
			slog.Warn("proxy error page detected",
				"url", rawURL, "attempt", attempt, "proxy", proxy.Redact(page.proxy),
				"hint", v.Hint, "specific", v.Specific, "next_delay", 2*delay)
			lastErr = models.NewScrapeError(models.ErrCodeHeuristicDetected, errorPageMessage(v), nil)
			delay *= 2
			continue
		}

		slog.Info("page fetched", "url", rawURL, "attempt", attempt, "proxy", proxy.Redact(page.proxy))
		return &Result{
			HTML:       page.html,
			Title:      extractTitle(page.html),
			Attempts:   attempt,
			Proxy:      proxy.Redact(page.proxy),
			StatusCode: page.status,
		}, nil
	}

	return nil, models.NewScrapeError(
		models.ErrCodeExhausted,
		fmt.Sprintf("no usable page from %s after %d attempts", rawURL, maxAttempts),
		lastErr,
	)
}

type attemptResult struct {
	proxy  string
	html   string
	status int
}

// attempt runs one ACQUIRE and FETCH cycle. The driver is always shut down.
func (f *Fetcher) attempt(ctx context.Context, rawURL, execPath string, requireOK bool) (attemptResult, error) {
	var res attemptResult
	if f.proxies != nil {
		res.proxy = f.proxies.Next()
	}

	opts := f.cfg.Driver
	opts.ExecutablePath = execPath
	opts.Proxy = res.proxy

	d, err := f.acquire(ctx, opts)
	if err != nil {
		return res, models.NewScrapeError(models.ErrCodeDriverAcquisition, "cannot start driver", err)
	}
	defer f.teardown(ctx, d)

	if err := d.Get(ctx, rawURL); err != nil {
		return res, models.NewScrapeError(models.ErrCodeFetch, "navigation failed", err)
	}
	html, err := d.PageSource(ctx)
	if err != nil {
		return res, models.NewScrapeError(models.ErrCodeFetch, "cannot read page source", err)
	}

	if sr, ok := d.(driver.StatusReporter); ok {
		if code, err := sr.StatusCode(ctx); err == nil {
			res.status = code
		} else {
			slog.Debug("navigation status unavailable", "error", err)
		}
	}
	if requireOK && res.status != 200 {
		return res, models.NewScrapeError(
			models.ErrCodeFetch,
			fmt.Sprintf("navigation status %d, want 200", res.status),
			nil,
		)
	}

	res.html = html
	return res, nil
}

// teardown shuts the driver down even when ctx is already canceled.
func (f *Fetcher) teardown(ctx context.Context, d driver.Driver) {
	err := d.Shutdown(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case driver.IsBenignTeardown(err):
		slog.Debug("driver already disconnected at shutdown", "error", err)
	default:
		slog.Warn("driver shutdown failed", "error", err)
	}
}

// ensureDriverPath resolves the chromedriver executable once. The rod
// backend drives the browser directly and needs none.
func (f *Fetcher) ensureDriverPath(ctx context.Context) (string, error) {
	if f.Backend() != driver.BackendChromeDriver {
		return "", nil
	}
	if p := f.DriverPath(); p != "" {
		return p, nil
	}
	if f.cfg.Driver.ExecutablePath != "" {
		f.setDriverPath(f.cfg.Driver.ExecutablePath)
		return f.cfg.Driver.ExecutablePath, nil
	}
	if f.resolver == nil {
		return "", models.NewScrapeError(models.ErrCodeInternal, "no driver resolver configured", nil)
	}

	p, err := f.resolver.Resolve(ctx, f.cfg.CacheRoot, f.cfg.Platform)
	if err != nil {
		return "", err
	}
	slog.Info("driver resolved", "path", p)
	f.setDriverPath(p)
	return p, nil
}

func (f *Fetcher) setDriverPath(p string) {
	f.pathMu.Lock()
	f.driverPath = p
	f.pathMu.Unlock()
}

// Wait sleeps for d, returning early with ctx's error if ctx is done first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf("not an http(s) URL: %q", raw), err)
	}
	return nil
}

func canceled(err error) error {
	msg := "fetch canceled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "fetch deadline exceeded"
	}
	return models.NewScrapeError(models.ErrCodeCanceled, msg, err)
}

func errorPageMessage(v Verdict) string {
	if v.Specific != "" {
		return fmt.Sprintf("proxy error page (%s)", v.Specific)
	}
	return fmt.Sprintf("proxy error page (%s)", v.Hint)
}
