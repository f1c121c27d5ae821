package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopscrape/models"
)

// Version is reported by the health and index endpoints.
const Version = "0.1.0"

// Health returns a handler for GET /api/health.
//
// Status is "busy" while a job holds the orchestrator, "healthy" otherwise.
func Health(jobs JobRunner, backend string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		running := jobs.Running()
		status := "healthy"
		if running {
			status = "busy"
		}
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			Backend:    backend,
			JobRunning: running,
			Version:    Version,
		})
	}
}

// Index returns a handler for GET / listing the endpoints.
func Index() gin.HandlerFunc {
	resp := models.IndexResponse{
		Name:    "shopscrape",
		Version: Version,
		Endpoints: map[string]string{
			"GET /api/health":            "service status",
			"POST /api/scrape":           "start a job from the configured sheet",
			"POST /api/scrape/urls":      "start a job from {urls, affiliateTag}",
			"GET /api/jobs":              "list jobs",
			"GET /api/jobs/:id":          "job status",
			"GET /api/jobs/:id/products": "products of a completed job",
			"GET /metrics":               "Prometheus metrics",
		},
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, resp)
	}
}
