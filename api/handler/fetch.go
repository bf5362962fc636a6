package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/chromefetch/cache"
	"github.com/use-agent/chromefetch/driver"
	"github.com/use-agent/chromefetch/models"
	"github.com/use-agent/chromefetch/scraper"
)

// PageFetcher is the part of *scraper.Fetcher the API needs.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, p scraper.Params) (*scraper.Result, error)
	Backend() driver.Backend
	DriverPath() string
	Busy() bool
}

// Fetch returns a handler for POST /api/v1/fetch.
//
// Flow:
//  1. Bind and validate the request.
//  2. Serve from the page cache when max_age_ms allows it.
//  3. Run the retry loop and map its outcome onto the response.
//  4. Store successful pages when caching was requested.
func Fetch(f PageFetcher, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.FetchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FetchResponse{
				Error: &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}

		var key string
		if cc != nil && req.MaxAge > 0 {
			key = cache.Key(req.URL, string(f.Backend()))
			if cached, hit := cc.Get(key, req.MaxAge); hit {
				resp := *cached
				resp.CacheStatus = "hit"
				resp.Timing = models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
				c.JSON(http.StatusOK, resp)
				return
			}
		}

		res, err := f.Fetch(c.Request.Context(), req.URL, scraper.Params{
			MaxAttempts:  req.MaxAttempts,
			InitialDelay: time.Duration(req.InitialDelayMs) * time.Millisecond,
			RequireOK:    req.RequireOK,
		})
		if err != nil {
			status, detail := errorDetail(err)
			c.JSON(status, models.FetchResponse{
				URL:    req.URL,
				Error:  detail,
				Timing: models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
			})
			return
		}

		resp := models.FetchResponse{
			Success:    true,
			URL:        req.URL,
			HTML:       res.HTML,
			Title:      res.Title,
			Attempts:   res.Attempts,
			Proxy:      res.Proxy,
			StatusCode: res.StatusCode,
			Timing:     models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
		}
		if key != "" {
			stored := resp
			cc.Set(key, &stored)
			resp.CacheStatus = "miss"
		}
		c.JSON(http.StatusOK, resp)
	}
}

// errorDetail maps an error from the fetch loop or the resolver onto an HTTP
// status and a structured error.
func errorDetail(err error) (int, *models.ErrorDetail) {
	var se *models.ScrapeError
	if !errors.As(err, &se) {
		var de *models.DriverError
		if errors.As(err, &de) {
			return http.StatusServiceUnavailable, de.ToDetail()
		}
		se = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}

	switch se.Code {
	case models.ErrCodeExhausted, models.ErrCodeDriverAcquisition,
		models.ErrCodeFetch, models.ErrCodeHeuristicDetected:
		return http.StatusBadGateway, se.ToDetail()
	case models.ErrCodeCanceled:
		return http.StatusGatewayTimeout, se.ToDetail()
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest, se.ToDetail()
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests, se.ToDetail()
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized, se.ToDetail()
	default:
		return http.StatusInternalServerError, se.ToDetail()
	}
}
