package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-rod/stealth"
	"github.com/tidwall/gjson"
	"github.com/use-agent/chromefetch/relay"
)

const (
	serviceStartTimeout = 20 * time.Second
	statusPollInterval  = 100 * time.Millisecond
)

// navigationStatusJS reads the HTTP status of the current document.
const navigationStatusJS = `try {
	const entries = performance.getEntriesByType("navigation");
	if (entries.length > 0) return entries[0].responseStatus || 0;
} catch (e) {}
return 0;`

// webDriverError is an error payload returned by the WebDriver endpoint.
type webDriverError struct {
	Status  int
	Code    string
	Message string
}

func (e *webDriverError) Error() string {
	return fmt.Sprintf("webdriver: %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// chromeDriver talks W3C WebDriver to a chromedriver process it owns.
type chromeDriver struct {
	base      string
	client    *http.Client
	sessionID string
	opts      Options

	cmd   *exec.Cmd
	exit  chan error
	relay *relay.Relay
}

func launchChromeDriver(ctx context.Context, opts Options) (Driver, error) {
	proxy, rl, err := proxyServer(opts.Proxy)
	if err != nil {
		return nil, err
	}

	d := &chromeDriver{
		client: &http.Client{Timeout: opts.PageLoadTimeout + 30*time.Second},
		opts:   opts,
		relay:  rl,
	}
	fail := func(err error) (Driver, error) {
		sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		d.Shutdown(sctx)
		return nil, err
	}

	if err := d.startService(ctx); err != nil {
		return fail(err)
	}
	if err := d.newSession(ctx, opts.browserArgs(proxy)); err != nil {
		return fail(err)
	}
	if opts.Stealth {
		if err := d.addScriptOnNewDocument(ctx, stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	return d, nil
}

// startService spawns chromedriver on a free loopback port and waits until it
// reports ready.
func (d *chromeDriver) startService(ctx context.Context) error {
	port, err := freePort()
	if err != nil {
		return fmt.Errorf("webdriver: pick port: %w", err)
	}

	cmd := exec.Command(d.opts.ExecutablePath, "--port="+strconv.Itoa(port), "--allowed-ips=127.0.0.1")
	startInGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("webdriver: start %s: %w", d.opts.ExecutablePath, err)
	}
	d.cmd = cmd
	d.exit = make(chan error, 1)
	go func() { d.exit <- cmd.Wait() }()
	d.base = "http://127.0.0.1:" + strconv.Itoa(port)

	return d.waitReady(ctx)
}

func (d *chromeDriver) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, serviceStartTimeout)
	defer cancel()

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		if body, err := d.call(ctx, http.MethodGet, "/status", nil); err == nil {
			if gjson.GetBytes(body, "value.ready").Bool() {
				return nil
			}
		}
		select {
		case err := <-d.exit:
			d.exit <- err
			return fmt.Errorf("webdriver: chromedriver exited during startup: %v", err)
		case <-ctx.Done():
			return fmt.Errorf("webdriver: chromedriver not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *chromeDriver) newSession(ctx context.Context, args []string) error {
	chromeOptions := map[string]any{
		"args":            args,
		"prefs":           defaultPrefs(d.opts.AcceptLanguage),
		"excludeSwitches": []string{"enable-automation"},
	}
	if d.opts.BrowserBin != "" {
		chromeOptions["binary"] = d.opts.BrowserBin
	}
	payload := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName":      "chrome",
				"pageLoadStrategy": "normal",
				"timeouts": map[string]any{
					"pageLoad": d.opts.PageLoadTimeout.Milliseconds(),
					"script":   30_000,
				},
				"goog:chromeOptions": chromeOptions,
			},
		},
	}

	body, err := d.call(ctx, http.MethodPost, "/session", payload)
	if err != nil {
		return fmt.Errorf("webdriver: new session: %w", err)
	}
	id := gjson.GetBytes(body, "value.sessionId").String()
	if id == "" {
		return errors.New("webdriver: new session: response has no session id")
	}
	d.sessionID = id
	slog.Debug("webdriver session created", "session", id)
	return nil
}

func (d *chromeDriver) addScriptOnNewDocument(ctx context.Context, source string) error {
	_, err := d.call(ctx, http.MethodPost, d.sessionPath("/goog/cdp/execute"), map[string]any{
		"cmd":    "Page.addScriptToEvaluateOnNewDocument",
		"params": map[string]any{"source": source},
	})
	return err
}

func (d *chromeDriver) Get(ctx context.Context, url string) error {
	_, err := d.call(ctx, http.MethodPost, d.sessionPath("/url"), map[string]any{"url": url})
	return err
}

func (d *chromeDriver) PageSource(ctx context.Context) (string, error) {
	body, err := d.call(ctx, http.MethodGet, d.sessionPath("/source"), nil)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "value").String(), nil
}

func (d *chromeDriver) StatusCode(ctx context.Context) (int, error) {
	body, err := d.call(ctx, http.MethodPost, d.sessionPath("/execute/sync"), map[string]any{
		"script": navigationStatusJS,
		"args":   []any{},
	})
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(body, "value").Int()), nil
}

// Shutdown deletes the session, kills chromedriver's process group and stops
// the relay. The group kill reaps a browser left behind by a failed delete.
func (d *chromeDriver) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if d.sessionID != "" {
		if _, err := d.call(ctx, http.MethodDelete, d.sessionPath(""), nil); err != nil {
			if IsBenignTeardown(err) {
				err = fmt.Errorf("%w: %v", ErrDevToolsDisconnected, err)
			}
			errs = append(errs, err)
		}
		d.sessionID = ""
	}

	if d.cmd != nil && d.cmd.Process != nil {
		if err := killTree(d.cmd); err != nil {
			slog.Warn("chromedriver process group kill failed", "pid", d.cmd.Process.Pid, "error", err)
		}
		select {
		case <-d.exit:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("webdriver: chromedriver did not exit: %w", ctx.Err()))
		}
		d.cmd = nil
	}

	if d.relay != nil {
		if err := d.relay.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		d.relay = nil
	}
	return errors.Join(errs...)
}

func (d *chromeDriver) sessionPath(suffix string) string {
	return "/session/" + d.sessionID + suffix
}

// call performs one WebDriver command and returns the raw response body.
func (d *chromeDriver) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("webdriver: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("webdriver: build %s: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdriver: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webdriver: read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		wdErr := &webDriverError{
			Status:  resp.StatusCode,
			Code:    gjson.GetBytes(raw, "value.error").String(),
			Message: gjson.GetBytes(raw, "value.message").String(),
		}
		if wdErr.Message == "" {
			wdErr.Message = string(raw)
		}
		return nil, wdErr
	}
	return raw, nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
