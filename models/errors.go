package models

import "fmt"

// Error codes for driver resolution. All of them are fatal to the caller.
const (
	ErrCodeBrowserNotFound     = "BROWSER_NOT_FOUND"
	ErrCodeVersionUnparseable  = "VERSION_UNPARSEABLE"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeManifestUnavailable = "MANIFEST_UNAVAILABLE"
	ErrCodeNoCompatibleDriver  = "NO_COMPATIBLE_DRIVER"
	ErrCodeDownloadFailed      = "DRIVER_DOWNLOAD_FAILED"
	ErrCodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	ErrCodeCacheUnavailable    = "DRIVER_CACHE_UNAVAILABLE"
)

// Error codes used by the scrape loop and the API.
const (
	ErrCodeExhausted          = "SCRAPE_EXHAUSTED"
	ErrCodeCanceled           = "SCRAPE_CANCELED"
	ErrCodeDriverAcquisition  = "DRIVER_ACQUISITION_FAILED"
	ErrCodeFetch              = "FETCH_FAILED"
	ErrCodeHeuristicDetected  = "HEURISTIC_ERROR_DETECTED"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped cause
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// DriverError reports why no driver binary could be resolved.
type DriverError struct {
	Code    string
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a new DriverError.
func NewDriverError(code, message string, err error) *DriverError {
	return &DriverError{Code: code, Message: message, Err: err}
}

// ToDetail converts a DriverError to an API-facing ErrorDetail.
func (e *DriverError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}
