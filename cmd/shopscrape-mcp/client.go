package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/shopscrape/models"
)

// apiClient talks to a running shopscrape API.
type apiClient struct {
	http         *resty.Client
	pollInterval time.Duration
}

func newAPIClient(apiURL, apiKey string) *apiClient {
	c := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(60 * time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &apiClient{http: c, pollInterval: 5 * time.Second}
}

// call sends one request and decodes a 2xx body into out. Error bodies are
// returned as "[CODE] message".
func (c *apiClient) call(ctx context.Context, method, path string, payload, out any) error {
	req := c.http.R().SetContext(ctx)
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	if resp.IsError() {
		var e models.ErrorResponse
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != nil {
			return fmt.Errorf("[%s] %s", e.Error.Code, e.Error.Message)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *apiClient) job(ctx context.Context, id int64) (models.Job, error) {
	var resp models.JobResponse
	err := c.call(ctx, resty.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &resp)
	return resp.Job, err
}

// waitJob polls a job until it leaves the running state or ctx ends.
func (c *apiClient) waitJob(ctx context.Context, id int64) (models.Job, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.job(ctx, id)
		if err != nil {
			return models.Job{}, err
		}
		if job.Status != models.JobRunning {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
