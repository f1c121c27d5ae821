package models

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// URLFailure records a target that failed inside an otherwise running job.
type URLFailure struct {
	URL   string `json:"url"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Job is one extraction run. Once Status leaves JobRunning the job is never
// mutated again.
type Job struct {
	ID           int64           `json:"id"`
	Status       JobStatus       `json:"status"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Error        string          `json:"error,omitempty"`
	Progress     string          `json:"progress,omitempty"`
	URLs         []string        `json:"urls,omitempty"`
	Target       string          `json:"target,omitempty"`
	Failures     []URLFailure    `json:"failures,omitempty"`
	Products     []ProductRecord `json:"-"`
	ProductCount int             `json:"productCount"`
}

// Snapshot returns a deep copy safe to hand to readers outside the job table.
func (j *Job) Snapshot() Job {
	out := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	out.URLs = append([]string(nil), j.URLs...)
	out.Failures = append([]URLFailure(nil), j.Failures...)
	out.Products = append([]ProductRecord(nil), j.Products...)
	return out
}

// RunRequest describes what a job should scrape.
type RunRequest struct {
	// URLs are the targets. When empty the orchestrator reads them from its
	// configured source.
	URLs []string `json:"urls"`

	// AffiliateTag overrides the configured tag for this run only.
	AffiliateTag string `json:"affiliateTag,omitempty"`

	// Target is the sink destination name (sheet tab, file stem).
	Target string `json:"target,omitempty"`
}
