package models

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// NewErrorResponse wraps a code and message.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: &ErrorDetail{Code: code, Message: message}}
}

// ScrapeURLsRequest is the body of POST /api/scrape/urls.
type ScrapeURLsRequest struct {
	URLs         []string `json:"urls" binding:"required,min=1,dive,required"`
	AffiliateTag string   `json:"affiliateTag"`
	Target       string   `json:"target"`
}

// ScrapeSheetRequest is the optional body of POST /api/scrape.
type ScrapeSheetRequest struct {
	AffiliateTag string `json:"affiliateTag"`
	Target       string `json:"target"`
}

// SubmitResponse acknowledges a started job.
type SubmitResponse struct {
	Success bool      `json:"success"`
	JobID   int64     `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// JobResponse wraps one job snapshot.
type JobResponse struct {
	Success bool `json:"success"`
	Job     Job  `json:"job"`
}

// JobListResponse is the body of GET /api/jobs.
type JobListResponse struct {
	Success bool  `json:"success"`
	Total   int   `json:"total"`
	Jobs    []Job `json:"jobs"`
}

// JobProductsResponse is the body of GET /api/jobs/:id/products.
type JobProductsResponse struct {
	Success       bool            `json:"success"`
	JobID         int64           `json:"jobId"`
	TotalProducts int             `json:"totalProducts"`
	Products      []ProductRecord `json:"products"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Backend    string `json:"backend"`
	JobRunning bool   `json:"jobRunning"`
	Version    string `json:"version"`
}

// IndexResponse lists the service endpoints.
type IndexResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}
