package resolver

import (
	"fmt"
	"runtime"

	"github.com/use-agent/chromefetch/models"
)

// Platform identifies the operating system a driver is resolved for.
type Platform string

const (
	Linux   Platform = "linux"
	Windows Platform = "windows"
)

// platformInfo holds the per-platform names used on disk and in the manifest.
type platformInfo struct {
	browserExecutable string
	driverExecutable  string
	driverSubdir      string
	manifestPlatform  string
}

var platforms = map[Platform]platformInfo{
	Linux: {
		browserExecutable: "google-chrome-stable",
		driverExecutable:  "chromedriver",
		driverSubdir:      "chromedriver-linux64",
		manifestPlatform:  "linux64",
	},
	Windows: {
		browserExecutable: "chrome.exe",
		driverExecutable:  "chromedriver.exe",
		driverSubdir:      "chromedriver-win64",
		manifestPlatform:  "win64",
	},
}

func (p Platform) info() (platformInfo, error) {
	info, ok := platforms[p]
	if !ok {
		return platformInfo{}, models.NewDriverError(
			models.ErrCodeUnsupportedPlatform,
			fmt.Sprintf("unsupported platform %q", string(p)),
			nil,
		)
	}
	return info, nil
}

// BrowserExecutable is the name of the browser binary looked up on PATH.
func (p Platform) BrowserExecutable() string { return platforms[p].browserExecutable }

// DriverExecutable is the file name of the driver binary.
func (p Platform) DriverExecutable() string { return platforms[p].driverExecutable }

// DriverSubdir is the directory the driver zip extracts into.
func (p Platform) DriverSubdir() string { return platforms[p].driverSubdir }

// ManifestPlatform is the platform designation used by the upstream manifest.
func (p Platform) ManifestPlatform() string { return platforms[p].manifestPlatform }

// ParsePlatform validates a platform name ("linux" or "windows").
// An empty name selects the current operating system.
func ParsePlatform(name string) (Platform, error) {
	if name == "" {
		return DetectPlatform()
	}
	p := Platform(name)
	if _, err := p.info(); err != nil {
		return "", err
	}
	return p, nil
}

// DetectPlatform maps the running OS to a Platform. macOS is recognised but
// not supported.
func DetectPlatform() (Platform, error) {
	switch runtime.GOOS {
	case "linux":
		return Linux, nil
	case "windows":
		return Windows, nil
	case "darwin":
		return "", models.NewDriverError(models.ErrCodeUnsupportedPlatform, "unsupported platform: mac", nil)
	default:
		return "", models.NewDriverError(
			models.ErrCodeUnsupportedPlatform,
			fmt.Sprintf("unsupported platform: %s", runtime.GOOS),
			nil,
		)
	}
}
