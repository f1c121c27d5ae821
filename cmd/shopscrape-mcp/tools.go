package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/shopscrape/models"
)

// registerTools adds every shopscrape tool to s.
func registerTools(s *server.MCPServer, c *apiClient) {
	s.AddTool(mcp.NewTool("scrape_urls",
		mcp.WithDescription("Start a job that scrapes product listings from storefront search result URLs. Only one job runs at a time."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Search result URLs or plain search terms"),
		),
		mcp.WithString("affiliate_tag",
			mcp.Description("Affiliate tag for referral links in this run"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the job to finish and return its products (default: false)"),
		),
	), handleScrapeURLs(c))

	s.AddTool(mcp.NewTool("scrape_sheet",
		mcp.WithDescription("Start a job over the search URLs listed in the configured input sheet."),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the job to finish (default: false)"),
		),
	), handleScrapeSheet(c))

	s.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Get the status and progress of a scrape job."),
		mcp.WithNumber("job_id",
			mcp.Required(),
			mcp.Description("Job id returned when the job was started"),
		),
	), handleGetJob(c))

	s.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List known scrape jobs."),
	), handleListJobs(c))

	s.AddTool(mcp.NewTool("get_products",
		mcp.WithDescription("Get the products of a completed scrape job."),
		mcp.WithNumber("job_id",
			mcp.Required(),
			mcp.Description("Job id of a completed job"),
		),
	), handleGetProducts(c))
}

func handleScrapeURLs(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil || len(urls) == 0 {
			return mcp.NewToolResultError("urls is required and must be a non-empty array of strings"), nil
		}
		payload := models.ScrapeURLsRequest{URLs: urls, AffiliateTag: request.GetString("affiliate_tag", "")}
		return start(ctx, c, "/api/scrape/urls", payload, request.GetBool("wait", false))
	}
}

func handleScrapeSheet(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return start(ctx, c, "/api/scrape", models.ScrapeSheetRequest{}, request.GetBool("wait", false))
	}
}

func start(ctx context.Context, c *apiClient, path string, payload any, wait bool) (*mcp.CallToolResult, error) {
	var submitted models.SubmitResponse
	if err := c.call(ctx, resty.MethodPost, path, payload, &submitted); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !wait {
		return mcp.NewToolResultText(fmt.Sprintf("Job %d started: %s", submitted.JobID, submitted.Message)), nil
	}

	job, err := c.waitJob(ctx, submitted.JobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("polling job %d failed: %v", submitted.JobID, err)), nil
	}
	if job.Status != models.JobCompleted {
		return mcp.NewToolResultError(formatJob(job)), nil
	}
	return productsResult(ctx, c, job)
}

func handleGetJob(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireInt("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		job, err := c.job(ctx, int64(id))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatJob(job)), nil
	}
}

func handleListJobs(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var resp models.JobListResponse
		if err := c.call(ctx, resty.MethodGet, "/api/jobs", nil, &resp); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if resp.Total == 0 {
			return mcp.NewToolResultText("No jobs."), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d jobs:\n", resp.Total)
		for _, job := range resp.Jobs {
			fmt.Fprintf(&sb, "- #%d %s, progress %s, %d products\n", job.ID, job.Status, orDash(job.Progress), job.ProductCount)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleGetProducts(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireInt("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		return productsResult(ctx, c, models.Job{ID: int64(id)})
	}
}

func productsResult(ctx context.Context, c *apiClient, job models.Job) (*mcp.CallToolResult, error) {
	var resp models.JobProductsResponse
	if err := c.call(ctx, resty.MethodGet, fmt.Sprintf("/api/jobs/%d/products", job.ID), nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Job %d: %d products\n\n", resp.JobID, resp.TotalProducts)
	for i, p := range resp.Products {
		fmt.Fprintf(&sb, "[%d] %s\n    %s | rating %s (%s reviews) | %s\n    %s\n",
			i+1, p.Name, p.Price.Display, p.Rating, p.Reviews, p.ItemID, linkOf(p))
	}
	for _, f := range job.Failures {
		fmt.Fprintf(&sb, "\nFAILED %s: [%s] %s", f.URL, f.Code, f.Error)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func formatJob(job models.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Job %d: %s\nProgress: %s\nProducts: %d\n", job.ID, job.Status, orDash(job.Progress), job.ProductCount)
	if job.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", job.Error)
	}
	for _, f := range job.Failures {
		fmt.Fprintf(&sb, "Failed %s: [%s] %s\n", f.URL, f.Code, f.Error)
	}
	return sb.String()
}

func linkOf(p models.ProductRecord) string {
	if p.ReferralLink != "" {
		return p.ReferralLink
	}
	return p.CanonicalLink
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
