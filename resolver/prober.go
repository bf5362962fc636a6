package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/use-agent/chromefetch/models"
	"github.com/use-agent/chromefetch/version"
)

// windowsUninstallKey is where the Chrome installer records its version.
const windowsUninstallKey = `HKLM\SOFTWARE\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\Google Chrome`

// BrowserProber reports the version of the browser installed on this machine.
type BrowserProber interface {
	InstalledVersion(ctx context.Context, p Platform) (string, error)
}

// runFunc executes a command and returns its trimmed stdout.
type runFunc func(ctx context.Context, name string, args ...string) (string, error)

// ExecProber queries the installed browser by running OS commands.
type ExecProber struct {
	run runFunc
}

// NewExecProber returns a prober backed by os/exec.
func NewExecProber() *ExecProber {
	return &ExecProber{run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// InstalledVersion checks the browser is on PATH and returns its version.
func (e *ExecProber) InstalledVersion(ctx context.Context, p Platform) (string, error) {
	if _, err := p.info(); err != nil {
		return "", err
	}

	if !e.available(ctx, p) {
		return "", models.NewDriverError(
			models.ErrCodeBrowserNotFound,
			fmt.Sprintf("cannot find %s on path", p.BrowserExecutable()),
			nil,
		)
	}

	var out string
	var err error
	switch p {
	case Windows:
		out, err = e.run(ctx, "reg", "query", windowsUninstallKey)
	default:
		out, err = e.run(ctx, p.BrowserExecutable(), "--version")
	}
	if err != nil {
		return "", models.NewDriverError(
			models.ErrCodeBrowserNotFound,
			fmt.Sprintf("cannot query version of %s", p.BrowserExecutable()),
			err,
		)
	}

	var ver string
	if p == Windows {
		ver = parseRegVersion(out)
	} else {
		ver = parseVersionFlag(out)
	}
	if !version.IsVersionString(ver) {
		return "", models.NewDriverError(
			models.ErrCodeVersionUnparseable,
			fmt.Sprintf("cannot determine version of %s from %q", p.BrowserExecutable(), out),
			nil,
		)
	}
	return ver, nil
}

func (e *ExecProber) available(ctx context.Context, p Platform) bool {
	var err error
	if p == Windows {
		_, err = e.run(ctx, "powershell", "-c", "Get-Command", p.BrowserExecutable())
	} else {
		_, err = e.run(ctx, "which", p.BrowserExecutable())
	}
	return err == nil
}

// parseVersionFlag extracts "120.0.6099.129" from "Google Chrome 120.0.6099.129".
func parseVersionFlag(out string) string {
	_, after, found := strings.Cut(out, "Chrome")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}

// parseRegVersion extracts the DisplayVersion value from `reg query` output.
func parseRegVersion(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "DisplayVersion") {
			continue
		}
		if _, after, found := strings.Cut(line, "REG_SZ"); found {
			return strings.TrimSpace(after)
		}
	}
	return ""
}
