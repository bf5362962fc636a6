package models

// FetchResponse is the response for POST /api/v1/fetch.
type FetchResponse struct {
	// Success indicates whether a clean page was acquired.
	Success bool `json:"success"`

	// URL is the requested page.
	URL string `json:"url"`

	// HTML is the rendered page source.
	HTML string `json:"html,omitempty"`

	// Title is the document title parsed from HTML.
	Title string `json:"title,omitempty"`

	// Attempts is the number of attempts the scrape loop used.
	Attempts int `json:"attempts"`

	// Proxy is the (redacted) proxy URI of the successful attempt.
	Proxy string `json:"proxy,omitempty"`

	// StatusCode is the navigation status when the backend can report it.
	StatusCode int `json:"status_code,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`
}

// ResolveResponse is the response for POST /api/v1/driver/resolve.
type ResolveResponse struct {
	Success  bool         `json:"success"`
	Path     string       `json:"path,omitempty"`
	Platform string       `json:"platform"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// CacheEntry describes one cached driver directory.
type CacheEntry struct {
	Version string `json:"version"`
	Path    string `json:"path"`
}

// CacheListResponse is the response for GET /api/v1/driver/cache.
type CacheListResponse struct {
	Success   bool         `json:"success"`
	CacheRoot string       `json:"cache_root"`
	Entries   []CacheEntry `json:"entries"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"` // "healthy" or "busy"
	Uptime     string `json:"uptime"`
	Backend    string `json:"backend"`
	DriverPath string `json:"driver_path,omitempty"`
	Pools      int    `json:"proxy_pools"`
	Busy       bool   `json:"busy"`
	Version    string `json:"version"`
}

// ErrorResponse is returned by middleware that rejects a request before it
// reaches a handler.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
