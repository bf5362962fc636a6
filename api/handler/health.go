package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/chromefetch/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health. Status is "busy" while a
// fetch loop is running.
func Health(f PageFetcher, pools int, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		busy := f.Busy()
		status := "healthy"
		if busy {
			status = "busy"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			Backend:    string(f.Backend()),
			DriverPath: f.DriverPath(),
			Pools:      pools,
			Busy:       busy,
			Version:    Version,
		})
	}
}
