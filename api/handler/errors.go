package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopscrape/models"
)

// respondError maps a ScrapeError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	scrapeErr := models.AsScrapeError(err)
	c.JSON(mapErrorToStatus(scrapeErr), models.ErrorResponse{
		Success: false,
		Error:   scrapeErr.ToDetail(),
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodeBlocked:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput, models.ErrCodeJobRunning:
		return http.StatusBadRequest // 400
	case models.ErrCodeJobNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeBusy:
		return http.StatusConflict // 409
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
