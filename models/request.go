package models

// FetchRequest is the payload for POST /api/v1/fetch.
type FetchRequest struct {
	// URL is the target page to fetch. Required.
	URL string `json:"url" binding:"required,url"`

	// MaxAttempts overrides the configured retry budget for this request.
	// Default: the server's configured value (4). Max: 10.
	MaxAttempts int `json:"max_attempts,omitempty" binding:"omitempty,min=1,max=10"`

	// InitialDelayMs overrides the delay before the first attempt, in
	// milliseconds. The delay doubles after every proxy/gateway failure.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" binding:"omitempty,min=0,max=60000"`

	// RequireOK treats a non-200 navigation status as a failed attempt.
	RequireOK bool `json:"require_ok,omitempty"`

	// MaxAge enables the response cache: a cached page younger than MaxAge
	// milliseconds is returned without launching a browser. 0 disables it.
	MaxAge int `json:"max_age_ms,omitempty" binding:"omitempty,min=0"`
}
