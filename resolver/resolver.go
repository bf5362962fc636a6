// Package resolver finds or downloads the chromedriver build that matches the
// locally installed browser.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"
	"github.com/use-agent/chromefetch/config"
	"github.com/use-agent/chromefetch/models"
	"github.com/use-agent/chromefetch/version"
)

// Resolver maps the installed browser version to a driver executable,
// consulting the on-disk cache before the upstream manifest.
type Resolver struct {
	fs          afero.Fs
	client      *retryablehttp.Client
	prober      BrowserProber
	manifestURL string
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithFs replaces the filesystem holding the driver cache.
func WithFs(fs afero.Fs) Option {
	return func(r *Resolver) { r.fs = fs }
}

// WithProber replaces the installed-browser query.
func WithProber(p BrowserProber) Option {
	return func(r *Resolver) { r.prober = p }
}

// WithHTTPClient replaces the client used for the manifest and archives.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// New creates a Resolver from cfg.
func New(cfg config.ResolverConfig, opts ...Option) *Resolver {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.HTTPRetries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = slog.Default()
	if cfg.HTTPTimeout > 0 {
		client.HTTPClient.Timeout = cfg.HTTPTimeout
	}

	manifestURL := cfg.ManifestURL
	if manifestURL == "" {
		manifestURL = DefaultManifestURL
	}

	r := &Resolver{
		fs:          afero.NewOsFs(),
		client:      client,
		prober:      NewExecProber(),
		manifestURL: manifestURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the path of a driver executable compatible with the
// browser installed for platform. A matching cached driver is returned
// without touching the network. Every failure is a *models.DriverError.
func (r *Resolver) Resolve(ctx context.Context, cacheRoot string, p Platform) (string, error) {
	if _, err := p.info(); err != nil {
		return "", err
	}

	installed, err := r.prober.InstalledVersion(ctx, p)
	if err != nil {
		return "", err
	}
	want, err := version.Parse(installed)
	if err != nil {
		return "", models.NewDriverError(
			models.ErrCodeVersionUnparseable,
			fmt.Sprintf("cannot parse browser version %q", installed),
			err,
		)
	}
	slog.Info("browser version detected", "platform", string(p), "version", want.String())

	entries, err := r.cacheEntries(cacheRoot, p)
	if err != nil {
		return "", err
	}

	if e, ok := matchExact(entries, want); ok {
		slog.Debug("driver cache hit", "match", "exact", "version", e.Name)
		return e.Path, nil
	}
	if e, ok := matchMajor(entries, want); ok {
		slog.Debug("driver cache hit", "match", "major", "version", e.Name)
		return e.Path, nil
	}

	manifest, err := fetchManifest(ctx, r.client, r.manifestURL)
	if err != nil {
		return "", models.NewDriverError(
			models.ErrCodeManifestUnavailable,
			"cannot retrieve driver version manifest",
			err,
		)
	}

	entry, ok := manifest.Exact(want, p.ManifestPlatform())
	if !ok {
		entry, ok = manifest.NearestBelow(want, p.ManifestPlatform())
	}
	if !ok {
		return "", models.NewDriverError(
			models.ErrCodeNoCompatibleDriver,
			fmt.Sprintf("no driver for %s at or below %s", p.ManifestPlatform(), want),
			nil,
		)
	}

	return r.install(ctx, cacheRoot, p, entry)
}

// Cached lists the usable drivers under cacheRoot, ascending by version.
func (r *Resolver) Cached(cacheRoot string, p Platform) ([]CacheEntry, error) {
	if _, err := p.info(); err != nil {
		return nil, err
	}
	return r.cacheEntries(cacheRoot, p)
}

func (r *Resolver) cacheEntries(cacheRoot string, p Platform) ([]CacheEntry, error) {
	if err := r.fs.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, cacheError(fmt.Sprintf("cannot create driver cache %s", cacheRoot), err)
	}
	entries, err := scanCache(r.fs, cacheRoot, p)
	if err != nil {
		return nil, cacheError(fmt.Sprintf("cannot read driver cache %s", cacheRoot), err)
	}
	return entries, nil
}

// cacheError reports PERMISSION_DENIED only for permission failures.
func cacheError(msg string, err error) error {
	code := models.ErrCodeCacheUnavailable
	if errors.Is(err, fs.ErrPermission) {
		code = models.ErrCodePermissionDenied
	}
	return models.NewDriverError(code, msg, err)
}

// install downloads entry's archive into cacheRoot/<version> and returns the
// driver path. A failed install removes the version directory only if this
// call created it.
func (r *Resolver) install(ctx context.Context, cacheRoot string, p Platform, entry ManifestEntry) (string, error) {
	url := entry.Downloads[p.ManifestPlatform()]
	slog.Info("downloading driver", "version", entry.Raw, "url", url)

	data, err := downloadZip(ctx, r.client, url)
	if err != nil {
		return "", models.NewDriverError(models.ErrCodeDownloadFailed, "cannot download driver archive", err)
	}

	dest := filepath.Join(cacheRoot, entry.Raw)
	existed, _ := afero.Exists(r.fs, dest)
	cleanup := func() {
		if !existed {
			_ = r.fs.RemoveAll(dest)
		}
	}
	if err := extractZip(r.fs, data, dest); err != nil {
		cleanup()
		return "", models.NewDriverError(models.ErrCodeDownloadFailed, "cannot extract driver archive", err)
	}

	path := driverPath(cacheRoot, entry.Raw, p)
	if ok, _ := afero.Exists(r.fs, path); !ok {
		cleanup()
		return "", models.NewDriverError(
			models.ErrCodeDownloadFailed,
			fmt.Sprintf("archive for %s has no %s", entry.Raw, filepath.Join(p.DriverSubdir(), p.DriverExecutable())),
			nil,
		)
	}

	if p == Linux {
		if err := markExecutable(r.fs, path); err != nil {
			return "", models.NewDriverError(models.ErrCodeDownloadFailed, "cannot mark driver executable", err)
		}
	}

	slog.Info("driver installed", "version", entry.Raw, "path", path)
	return path, nil
}
