// Package jobs runs scrape jobs one at a time and keeps their state for
// status queries.
package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/use-agent/shopscrape/extractor"
	"github.com/use-agent/shopscrape/metrics"
	"github.com/use-agent/shopscrape/models"
	"github.com/use-agent/shopscrape/pacing"
	"github.com/use-agent/shopscrape/sink"
	"github.com/use-agent/shopscrape/webhook"
)

// Scraper turns one target into records.
type Scraper interface {
	ScrapeSearchResults(ctx context.Context, target string) ([]models.ProductRecord, error)
}

// Options wires the collaborators of an Orchestrator. Only Scraper is
// required.
type Options struct {
	Scraper Scraper

	// Extractor rebuilds referral links when a run overrides the tag.
	Extractor *extractor.Extractor

	Sink     sink.Sink
	Source   sink.Source
	Notifier *webhook.Notifier
	Metrics  *metrics.Metrics

	// Pace spaces the URLs of one job. Nil means no pause.
	Pace *pacing.Policy

	// Retention is how long finished jobs stay queryable; 0 keeps them.
	Retention time.Duration

	Now func() time.Time
}

// Orchestrator owns the job table and the single-flight gate. At most one
// job runs at a time; the table is safe for concurrent readers.
type Orchestrator struct {
	opts Options

	mu      sync.Mutex
	jobs    map[int64]*models.Job
	nextID  int64
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Pace == nil {
		opts.Pace = &pacing.Policy{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:   opts,
		jobs:   make(map[int64]*models.Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit starts a job and returns its id, or fails with ORCHESTRATOR_BUSY
// without creating a job when one is already running. A request without
// URLs reads them from the configured Source when the job starts.
func (o *Orchestrator) Submit(req models.RunRequest) (int64, error) {
	if len(req.URLs) == 0 && o.opts.Source == nil {
		return 0, models.NewScrapeError(models.ErrCodeInvalidInput, "no urls given and no url source configured", nil)
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return 0, models.NewScrapeError(models.ErrCodeBusy, "a job is already running", nil)
	}
	o.pruneLocked()
	o.nextID++
	job := &models.Job{
		ID:        o.nextID,
		Status:    models.JobRunning,
		StartedAt: o.opts.Now(),
		URLs:      slices.Clone(req.URLs),
		Target:    req.Target,
	}
	o.jobs[job.ID] = job
	o.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	o.opts.Metrics.JobStarted()
	slog.Info("job started", "jobId", job.ID, "urls", len(req.URLs), "fromSource", len(req.URLs) == 0)

	go o.run(job.ID, req)
	return job.ID, nil
}

// Get returns a snapshot of one job.
func (o *Orchestrator) Get(id int64) (models.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	if !ok {
		return models.Job{}, models.NewScrapeError(models.ErrCodeJobNotFound, fmt.Sprintf("job %d not found", id), nil)
	}
	return job.Snapshot(), nil
}

// List returns snapshots of all jobs, oldest first.
func (o *Orchestrator) List() []models.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job.Snapshot())
	}
	slices.SortFunc(out, func(a, b models.Job) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Products returns the records of a completed job.
func (o *Orchestrator) Products(id int64) ([]models.ProductRecord, error) {
	job, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobCompleted {
		return nil, models.NewScrapeError(models.ErrCodeJobRunning, fmt.Sprintf("job is %s, wait for completion", job.Status), nil)
	}
	if job.Products == nil {
		return []models.ProductRecord{}, nil
	}
	return job.Products, nil
}

// Running reports whether a job holds the gate.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Wait blocks until no job goroutine is left.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// WaitContext waits for the running job like Wait. When ctx ends first the
// job is stopped through Close and ctx's error is returned.
func (o *Orchestrator) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.Close()
		return ctx.Err()
	}
}

// Close stops the running job at its next suspension point and waits for it.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) run(id int64, req models.RunRequest) {
	defer o.wg.Done()

	var err error
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "jobId", id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
		o.finish(id, err)
	}()

	err = o.execute(o.ctx, id, req)
}

func (o *Orchestrator) execute(ctx context.Context, id int64, req models.RunRequest) error {
	urls := req.URLs
	if len(urls) == 0 {
		var err error
		if urls, err = o.opts.Source.URLs(ctx); err != nil {
			return fmt.Errorf("reading input urls: %w", err)
		}
		o.update(id, func(j *models.Job) { j.URLs = slices.Clone(urls) })
		if len(urls) == 0 {
			slog.Info("no input urls found", "jobId", id)
			return nil
		}
	}

	ext := o.opts.Extractor
	if req.AffiliateTag != "" && ext != nil {
		ext = ext.WithAffiliateTag(req.AffiliateTag)
	}

	var (
		products []models.ProductRecord
		lastErr  error
		failed   int
	)
	for i, u := range urls {
		slog.Info("job scraping url", "jobId", id, "index", i+1, "total", len(urls), "url", u)

		recs, err := o.opts.Scraper.ScrapeSearchResults(ctx, u)
		switch {
		case err == nil:
			if req.AffiliateTag != "" && ext != nil {
				ext.Retag(recs)
			}
			products = append(products, recs...)
		case models.IsCode(err, models.ErrCodeConfigMissing), errors.Is(err, context.Canceled):
			return err
		default:
			failed++
			lastErr = err
			slog.Warn("url failed, continuing", "jobId", id, "url", u, "error", err)
		}

		progress := fmt.Sprintf("%d/%d", i+1, len(urls))
		snapshot := slices.Clone(products)
		o.update(id, func(j *models.Job) {
			j.Progress = progress
			j.Products = snapshot
			j.ProductCount = len(snapshot)
			if err != nil {
				j.Failures = append(j.Failures, models.URLFailure{URL: u, Code: models.CodeOf(err), Error: err.Error()})
			}
		})

		if i < len(urls)-1 {
			if err := o.opts.Pace.Pause(ctx); err != nil {
				return err
			}
		}
	}

	if failed == len(urls) {
		return fmt.Errorf("all %d urls failed, last error: %w", failed, lastErr)
	}

	if o.opts.Sink != nil && len(products) > 0 {
		if err := o.opts.Sink.Write(ctx, req.Target, products); err != nil {
			return err
		}
	}
	return nil
}

// update mutates a running job under the table lock.
func (o *Orchestrator) update(id int64, fn func(*models.Job)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[id]; ok && job.Status == models.JobRunning {
		fn(job)
	}
}

// finish freezes the job and releases the gate.
func (o *Orchestrator) finish(id int64, err error) {
	now := o.opts.Now()

	o.mu.Lock()
	job := o.jobs[id]
	job.CompletedAt = &now
	if err != nil {
		job.Status = models.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = models.JobCompleted
	}
	snap := job.Snapshot()
	o.running = false
	o.mu.Unlock()

	o.opts.Metrics.JobFinished(string(snap.Status))
	if err != nil {
		slog.Error("job failed", "jobId", id, "error", err, "products", snap.ProductCount)
	} else {
		slog.Info("job completed", "jobId", id, "products", snap.ProductCount, "failures", len(snap.Failures))
	}

	eventType := webhook.JobCompleted
	if err != nil {
		eventType = webhook.JobFailed
	}
	o.opts.Notifier.NotifyAsync(&webhook.Event{
		Type:      eventType,
		JobID:     id,
		Timestamp: now.Unix(),
		Data: map[string]any{
			"status":       snap.Status,
			"productCount": snap.ProductCount,
			"failures":     snap.Failures,
			"error":        snap.Error,
		},
	})
}

// pruneLocked drops finished jobs older than the retention window.
func (o *Orchestrator) pruneLocked() {
	if o.opts.Retention <= 0 {
		return
	}
	cutoff := o.opts.Now().Add(-o.opts.Retention)
	for id, job := range o.jobs {
		if job.Status != models.JobRunning && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
}
