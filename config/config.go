package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Driver    DriverConfig
	Resolver  ResolverConfig
	Proxy     ProxyConfig
	Scrape    ScrapeConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "127.0.0.1"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// DriverConfig controls how a browser driver instance is launched.
type DriverConfig struct {
	// Backend selects the automation backend: "chromedriver" or "rod".
	Backend string // default: "chromedriver"

	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// Incognito launches the browser in incognito mode. When set,
	// UserDataDir and ProfileDir are ignored.
	Incognito bool // default: true

	UserDataDir string
	ProfileDir  string

	// UserAgent overrides the browser's user agent.
	UserAgent string

	// BrowserBin overrides the Chromium binary path (rod backend only).
	BrowserBin string

	// ExtraArgs replaces the default browser command-line switches.
	ExtraArgs []string

	// Stealth injects anti-detection JS before every navigation.
	Stealth bool // default: true

	// PageLoadTimeout bounds a single navigation.
	PageLoadTimeout time.Duration // default: 180s

	// ShutdownTimeout bounds driver teardown.
	ShutdownTimeout time.Duration // default: 10s
}

// ResolverConfig controls driver version resolution.
type ResolverConfig struct {
	// CacheRoot is where downloaded drivers live, one directory per version.
	CacheRoot string // default: <tmp>/bin/chromedrivers

	// Platform forces "linux" or "windows"; empty detects the running OS.
	Platform string

	// ManifestURL is the upstream version manifest endpoint.
	ManifestURL string

	// HTTPRetries is the retry budget for manifest and archive downloads.
	HTTPRetries int // default: 3

	// HTTPTimeout bounds each manifest/archive request.
	HTTPTimeout time.Duration // default: 60s
}

// ProxyConfig points at the proxy credentials file.
type ProxyConfig struct {
	// CredentialsFile is a JSON or YAML file of accounts and weights.
	CredentialsFile string

	// Seed makes rotation reproducible when non-zero.
	Seed uint64
}

// ScrapeConfig controls the retry loop.
type ScrapeConfig struct {
	MaxAttempts  int           // default: 4
	InitialDelay time.Duration // default: 2s
	RequireOK    bool          // default: false

	// ProbeURL is fetched by the WAN address probe.
	ProbeURL string // default: "https://icanhazip.com/"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 2
}

// CacheConfig controls the fetched page cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 200
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory, if present, is loaded first; it never
// overrides variables already set in the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: envOr("CHROMEFETCH_HOST", "127.0.0.1"),
			Port: envIntOr("CHROMEFETCH_PORT", 8080),
			Mode: envOr("CHROMEFETCH_MODE", "release"),
		},
		Driver: DriverConfig{
			Backend:         envOr("CHROMEFETCH_BACKEND", "chromedriver"),
			Headless:        envBoolOr("CHROMEFETCH_HEADLESS", true),
			Incognito:       envBoolOr("CHROMEFETCH_INCOGNITO", true),
			UserDataDir:     os.Getenv("CHROMEFETCH_USER_DATA_DIR"),
			ProfileDir:      os.Getenv("CHROMEFETCH_PROFILE_DIR"),
			UserAgent:       os.Getenv("CHROMEFETCH_USER_AGENT"),
			BrowserBin:      os.Getenv("CHROMEFETCH_BROWSER_BIN"),
			ExtraArgs:       envSliceOr("CHROMEFETCH_BROWSER_ARGS", nil),
			Stealth:         envBoolOr("CHROMEFETCH_STEALTH", true),
			PageLoadTimeout: envDurationOr("CHROMEFETCH_PAGE_LOAD_TIMEOUT", 180*time.Second),
			ShutdownTimeout: envDurationOr("CHROMEFETCH_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Resolver: ResolverConfig{
			CacheRoot:   envOr("CHROMEFETCH_DRIVER_CACHE", DefaultCacheRoot()),
			Platform:    os.Getenv("CHROMEFETCH_PLATFORM"),
			ManifestURL: envOr("CHROMEFETCH_MANIFEST_URL", "https://googlechromelabs.github.io/chrome-for-testing/known-good-versions-with-downloads.json"),
			HTTPRetries: envIntOr("CHROMEFETCH_HTTP_RETRIES", 3),
			HTTPTimeout: envDurationOr("CHROMEFETCH_HTTP_TIMEOUT", 60*time.Second),
		},
		Proxy: ProxyConfig{
			CredentialsFile: os.Getenv("CHROMEFETCH_PROXY_FILE"),
			Seed:            envUintOr("CHROMEFETCH_PROXY_SEED", 0),
		},
		Scrape: ScrapeConfig{
			MaxAttempts:  envIntOr("CHROMEFETCH_MAX_ATTEMPTS", 4),
			InitialDelay: envDurationOr("CHROMEFETCH_INITIAL_DELAY", 2*time.Second),
			RequireOK:    envBoolOr("CHROMEFETCH_REQUIRE_OK", false),
			ProbeURL:     envOr("CHROMEFETCH_PROBE_URL", "https://icanhazip.com/"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("CHROMEFETCH_AUTH_ENABLED", true),
			APIKeys: envSliceOr("CHROMEFETCH_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("CHROMEFETCH_RATE_RPS", 1.0),
			Burst:             envIntOr("CHROMEFETCH_RATE_BURST", 2),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("CHROMEFETCH_CACHE_MAX_ENTRIES", 200),
		},
		Log: LogConfig{
			Level:  envOr("CHROMEFETCH_LOG_LEVEL", "info"),
			Format: envOr("CHROMEFETCH_LOG_FORMAT", "text"),
		},
	}
}

// DefaultCacheRoot is the driver cache used when none is configured.
func DefaultCacheRoot() string {
	return filepath.Join(os.TempDir(), "bin", "chromedrivers")
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envUintOr(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
