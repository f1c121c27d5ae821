package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/shopscrape/api/handler"
	"github.com/use-agent/shopscrape/api/middleware"
	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/metrics"
)

// Deps are the collaborators the routes serve.
type Deps struct {
	Jobs    handler.JobRunner
	Metrics *metrics.Metrics
	Backend string
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Index, health and metrics stay outside auth so probes always work.
func NewRouter(ctx context.Context, deps Deps, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/", handler.Index())
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/health", handler.Health(deps.Jobs, deps.Backend, startTime))

	protected := api.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/scrape", handler.ScrapeSheet(deps.Jobs))
	protected.POST("/scrape/urls", handler.ScrapeURLs(deps.Jobs))
	protected.GET("/jobs", handler.ListJobs(deps.Jobs))
	protected.GET("/jobs/:id", handler.GetJob(deps.Jobs))
	protected.GET("/jobs/:id/products", handler.JobProducts(deps.Jobs))

	return r
}
