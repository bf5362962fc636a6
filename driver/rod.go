package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/chromefetch/relay"
	"github.com/ysmood/gson"
)

// rodDriver drives a Chromium it launched over CDP.
type rodDriver struct {
	launcher *launcher.Launcher
	launched bool
	browser  *rod.Browser
	page     *rod.Page
	relay    *relay.Relay
	opts     Options
}

func launchRod(ctx context.Context, opts Options) (Driver, error) {
	proxy, rl, err := proxyServer(opts.Proxy)
	if err != nil {
		return nil, err
	}
	d := &rodDriver{opts: opts, relay: rl}
	fail := func(err error) (Driver, error) {
		sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		d.Shutdown(sctx)
		return nil, err
	}

	l := newLauncher(opts, proxy).Context(ctx)
	d.launcher = l

	controlURL, err := l.Launch()
	if err != nil {
		return fail(fmt.Errorf("rod: launch browser: %w", err))
	}
	d.launched = true
	slog.Debug("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fail(fmt.Errorf("rod: connect to browser: %w", err))
	}
	d.browser = browser

	target := browser
	if opts.Incognito {
		incognito, err := browser.Incognito()
		if err != nil {
			return fail(fmt.Errorf("rod: open incognito context: %w", err))
		}
		target = incognito
	}

	page, err := target.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fail(fmt.Errorf("rod: create page: %w", err))
	}
	d.page = page

	if opts.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	headers := map[string]string{"Accept-Language": opts.AcceptLanguage}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}).Call(page); err != nil {
		slog.Debug("setting extra headers failed", "error", err)
	}
	return d, nil
}

// newLauncher translates Options into launcher flags. Incognito is applied
// on the browser context, not as a switch.
func newLauncher(opts Options, proxy string) *launcher.Launcher {
	l := launcher.New().Headless(opts.Headless)
	if opts.BrowserBin != "" {
		l = l.Bin(opts.BrowserBin)
	}
	if proxy != "" {
		l = l.Proxy(proxy)
	}
	if !opts.Incognito {
		if opts.UserDataDir != "" {
			l = l.UserDataDir(opts.UserDataDir)
		}
		if opts.ProfileDir != "" {
			l = l.ProfileDir(opts.ProfileDir)
		}
	}

	l.Delete(flags.Flag("enable-automation"))
	if opts.Stealth {
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	}
	if opts.UserAgent != "" {
		l.Set(flags.Flag("user-agent"), opts.UserAgent)
	}

	extra := opts.ExtraArgs
	if extra == nil {
		extra = DefaultArgs
	}
	for _, arg := range extra {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			l.Set(flags.Flag(name), value)
		} else {
			l.Set(flags.Flag(name))
		}
	}
	return l
}

func (d *rodDriver) Get(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PageLoadTimeout)
	defer cancel()

	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("rod: navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("rod: wait load: %w", err)
	}
	return nil
}

func (d *rodDriver) PageSource(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("rod: page html: %w", err)
	}
	return html, nil
}

func (d *rodDriver) StatusCode(ctx context.Context) (int, error) {
	res, err := d.page.Context(ctx).Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`)
	if err != nil {
		return 0, fmt.Errorf("rod: navigation status: %w", err)
	}
	return res.Value.Int(), nil
}

// Shutdown closes the browser, kills the process tree and stops the relay.
func (d *rodDriver) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if d.browser != nil {
		if err := d.browser.Context(ctx).Close(); err != nil {
			if isDisconnect(err) {
				err = fmt.Errorf("%w: %v", ErrDevToolsDisconnected, err)
			}
			errs = append(errs, err)
		}
		d.browser = nil
	}
	if d.launcher != nil && d.launched {
		d.launcher.Kill()
		// Cleanup deletes the user data dir, so only run it on the
		// launcher's own temporary profile.
		if d.opts.Incognito || d.opts.UserDataDir == "" {
			d.launcher.Cleanup()
		}
	}
	d.launcher = nil
	if d.relay != nil {
		if err := d.relay.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		d.relay = nil
	}
	return errors.Join(errs...)
}

// isDisconnect reports errors raised because the CDP websocket is gone.
func isDisconnect(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close") ||
		strings.Contains(msg, "EOF")
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
