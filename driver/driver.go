// Package driver launches a controllable browser and exposes it through a
// small navigation interface. Two backends exist: a W3C WebDriver client for
// the chromedriver binary picked by the resolver, and a go-rod backend that
// drives Chromium over CDP directly.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/use-agent/chromefetch/config"
)

// Backend selects the automation backend.
type Backend string

const (
	BackendChromeDriver Backend = "chromedriver"
	BackendRod          Backend = "rod"
)

// ErrDevToolsDisconnected marks the teardown error raised when the browser
// went away before the driver asked it to quit.
var ErrDevToolsDisconnected = errors.New("disconnected: not connected to DevTools")

// Driver is one browser instance. It is owned by a single caller and must be
// shut down exactly once.
type Driver interface {
	// Get navigates to url and waits for the page load to finish.
	Get(ctx context.Context, url string) error

	// PageSource returns the current DOM serialised as HTML.
	PageSource(ctx context.Context) (string, error)

	// Shutdown terminates the browser, the driver process and any local
	// proxy relay within the configured shutdown timeout.
	Shutdown(ctx context.Context) error
}

// StatusReporter is implemented by drivers that can report the HTTP status
// of the last navigation.
type StatusReporter interface {
	StatusCode(ctx context.Context) (int, error)
}

// Factory creates drivers. Acquire is the production implementation.
type Factory func(ctx context.Context, opts Options) (Driver, error)

// Options configures a driver instance.
//
// Precedence:
//   - Backend picks exactly one backend; empty means chromedriver.
//   - ExecutablePath is required by chromedriver and ignored by rod.
//   - Incognito wins over UserDataDir and ProfileDir.
//   - A nil ExtraArgs means DefaultArgs; an empty non-nil slice means none.
type Options struct {
	Backend        Backend
	ExecutablePath string // chromedriver binary
	BrowserBin     string // browser binary for the rod backend
	Proxy          string // proxy URI, credentials allowed
	Headless       bool
	Incognito      bool
	UserDataDir    string
	ProfileDir     string
	UserAgent      string
	AcceptLanguage string
	ExtraArgs      []string
	Stealth        bool

	PageLoadTimeout time.Duration
	ShutdownTimeout time.Duration
}

// DefaultArgs are the browser switches used when Options.ExtraArgs is nil.
var DefaultArgs = []string{
	"--disable-auto-reload",
	"--disable-background-networking",
	"--disable-breakpad",
	"--disable-crash-reporter",
	"--disable-default-apps",
	"--disable-extensions",
	"--disable-features=OptimizationGuideModelDownloading,OptimizationHintsFetching,OptimizationTargetPrediction,OptimizationHints",
	"--disable-fetching-hints-at-navigation-start",
	"--ignore-certificate-errors",
	"--webview-disable-safebrowsing-support",
}

// defaultPrefs are browser profile preferences applied by the chromedriver
// backend. Content settings use 2 for "block".
func defaultPrefs(acceptLanguage string) map[string]any {
	prefs := map[string]any{
		"intl.accept_languages":        acceptLanguage,
		"download.prompt_for_download": false,
		"download.default_directory":   os.TempDir(),
		"download_restrictions":        3,
	}
	for _, setting := range []string{
		"automatic_downloads",
		"notifications",
		"media_stream",
		"media_stream_mic",
		"media_stream_camera",
		"durable_storage",
	} {
		prefs["profile.default_content_setting_values."+setting] = 2
	}
	return prefs
}

// OptionsFromConfig maps the driver section of the configuration.
func OptionsFromConfig(cfg config.DriverConfig) Options {
	return Options{
		Backend:         Backend(cfg.Backend),
		BrowserBin:      cfg.BrowserBin,
		Headless:        cfg.Headless,
		Incognito:       cfg.Incognito,
		UserDataDir:     cfg.UserDataDir,
		ProfileDir:      cfg.ProfileDir,
		UserAgent:       cfg.UserAgent,
		ExtraArgs:       cfg.ExtraArgs,
		Stealth:         cfg.Stealth,
		PageLoadTimeout: cfg.PageLoadTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// withDefaults fills zero values.
func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = BackendChromeDriver
	}
	if o.PageLoadTimeout <= 0 {
		o.PageLoadTimeout = 180 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = "en,en_US"
	}
	return o
}

// Validate reports option combinations that cannot launch.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch o.Backend {
	case BackendChromeDriver:
		if o.ExecutablePath == "" {
			return errors.New("driver: chromedriver backend needs an executable path")
		}
	case BackendRod:
	default:
		return fmt.Errorf("driver: unknown backend %q", o.Backend)
	}

	if !o.Incognito {
		for _, dir := range []string{o.UserDataDir, o.ProfileDir} {
			if dir == "" {
				continue
			}
			if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
				return fmt.Errorf("driver: directory %s does not exist", dir)
			}
		}
	}
	return nil
}

// browserArgs renders the command-line switches for the browser. proxyServer
// is the value for --proxy-server, already stripped of credentials.
func (o Options) browserArgs(proxyServer string) []string {
	extra := o.ExtraArgs
	if extra == nil {
		extra = DefaultArgs
	}
	args := append([]string(nil), extra...)

	if o.Headless {
		args = append(args, "--headless=new")
	}
	if o.Incognito {
		args = append(args, "--incognito")
	} else {
		if o.UserDataDir != "" {
			args = append(args, "--user-data-dir="+o.UserDataDir)
		}
		if o.ProfileDir != "" {
			args = append(args, "--profile-directory="+o.ProfileDir)
		}
	}
	if o.UserAgent != "" {
		args = append(args, "--user-agent="+o.UserAgent)
	}
	if proxyServer != "" {
		args = append(args, "--proxy-server="+proxyServer)
	}
	if o.Stealth {
		args = append(args, "--disable-blink-features=AutomationControlled")
	}
	return args
}

// Acquire launches a driver for opts.Backend.
func Acquire(ctx context.Context, opts Options) (Driver, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	switch opts.Backend {
	case BackendRod:
		return launchRod(ctx, opts)
	default:
		return launchChromeDriver(ctx, opts)
	}
}

// IsBenignTeardown reports whether a Shutdown error only says the browser
// had already disconnected.
func IsBenignTeardown(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrDevToolsDisconnected) {
		return true
	}
	return strings.Contains(err.Error(), "not connected to DevTools")
}
