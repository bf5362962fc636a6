package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/chromefetch/models"
	"github.com/use-agent/chromefetch/resolver"
)

// DriverResolver is the part of *resolver.Resolver the API needs.
type DriverResolver interface {
	Resolve(ctx context.Context, cacheRoot string, p resolver.Platform) (string, error)
	Cached(cacheRoot string, p resolver.Platform) ([]resolver.CacheEntry, error)
}

// DriverCache names the configured cache directory and platform. Requests
// cannot override either.
type DriverCache struct {
	Root     string
	Platform resolver.Platform
}

// ResolveDriver returns a handler for POST /api/v1/driver/resolve. Any body
// is ignored and the driver always lands under the configured cache root.
func ResolveDriver(r DriverResolver, dc DriverCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := r.Resolve(c.Request.Context(), dc.Root, dc.Platform)
		if err != nil {
			status, detail := errorDetail(err)
			c.JSON(status, models.ResolveResponse{Platform: string(dc.Platform), Error: detail})
			return
		}
		c.JSON(http.StatusOK, models.ResolveResponse{
			Success:  true,
			Path:     path,
			Platform: string(dc.Platform),
		})
	}
}

// ListDriverCache returns a handler for GET /api/v1/driver/cache.
func ListDriverCache(r DriverResolver, dc DriverCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := r.Cached(dc.Root, dc.Platform)
		if err != nil {
			status, detail := errorDetail(err)
			c.JSON(status, models.CacheListResponse{CacheRoot: dc.Root, Entries: []models.CacheEntry{}, Error: detail})
			return
		}

		out := make([]models.CacheEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, models.CacheEntry{Version: e.Name, Path: e.Path})
		}
		c.JSON(http.StatusOK, models.CacheListResponse{Success: true, CacheRoot: dc.Root, Entries: out})
	}
}
