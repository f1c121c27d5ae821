package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopscrape/models"
)

// JobRunner is the part of the orchestrator the handlers use.
type JobRunner interface {
	Submit(req models.RunRequest) (int64, error)
	Get(id int64) (models.Job, error)
	List() []models.Job
	Products(id int64) ([]models.ProductRecord, error)
	Running() bool
}

// ScrapeSheet returns a handler for POST /api/scrape.
//
// The job reads its URLs from the configured sheet range. The body is
// optional.
func ScrapeSheet(jobs JobRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeSheetRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err))
				return
			}
		}
		submit(c, jobs, models.RunRequest{AffiliateTag: req.AffiliateTag, Target: req.Target}, "scraping urls from the input sheet")
	}
}

// ScrapeURLs returns a handler for POST /api/scrape/urls.
func ScrapeURLs(jobs JobRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeURLsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err))
			return
		}
		run := models.RunRequest{URLs: req.URLs, AffiliateTag: req.AffiliateTag, Target: req.Target}
		submit(c, jobs, run, fmt.Sprintf("scraping %d urls", len(req.URLs)))
	}
}

func submit(c *gin.Context, jobs JobRunner, req models.RunRequest, message string) {
	id, err := jobs.Submit(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SubmitResponse{
		Success: true,
		JobID:   id,
		Status:  models.JobRunning,
		Message: message,
	})
}

// ListJobs returns a handler for GET /api/jobs.
func ListJobs(jobs JobRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := jobs.List()
		c.JSON(http.StatusOK, models.JobListResponse{Success: true, Total: len(list), Jobs: list})
	}
}

// GetJob returns a handler for GET /api/jobs/:id.
func GetJob(jobs JobRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := jobID(c)
		if !ok {
			return
		}
		job, err := jobs.Get(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.JobResponse{Success: true, Job: job})
	}
}

// JobProducts returns a handler for GET /api/jobs/:id/products.
func JobProducts(jobs JobRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := jobID(c)
		if !ok {
			return
		}
		products, err := jobs.Products(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.JobProductsResponse{
			Success:       true,
			JobID:         id,
			TotalProducts: len(products),
			Products:      products,
		})
	}
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, "job id must be a positive integer", nil))
		return 0, false
	}
	return id, true
}
