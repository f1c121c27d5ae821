package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/shopscrape/cache"
	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/engine"
	"github.com/use-agent/shopscrape/extractor"
	"github.com/use-agent/shopscrape/jobs"
	"github.com/use-agent/shopscrape/metrics"
	"github.com/use-agent/shopscrape/pacing"
	"github.com/use-agent/shopscrape/scraper"
	"github.com/use-agent/shopscrape/sink"
	"github.com/use-agent/shopscrape/webhook"
)

// app holds the wired components shared by every command.
type app struct {
	backend engine.Backend
	session *scraper.Session
	jobs    *jobs.Orchestrator
	metrics *metrics.Metrics
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	m := metrics.New()

	pace := &pacing.Policy{
		MinDelay:    cfg.Scraper.MinDelay,
		MaxDelay:    cfg.Scraper.MaxDelay,
		MaxAttempts: cfg.Scraper.MaxAttempts,
		Backoff:     cfg.Scraper.RetryBackoff,
		BackoffMax:  cfg.Scraper.RetryBackoffMax,
	}

	backend, err := engine.New(cfg, pace)
	if err != nil {
		return nil, fmt.Errorf("initialise %s backend: %w", cfg.Scraper.Backend, err)
	}

	ext := extractor.New(extractor.Options{
		BaseURL:      cfg.Scraper.BaseURL,
		AffiliateTag: cfg.Affiliate.Tag,
		MaxImages:    cfg.Scraper.MaxImages,
	})
	if cfg.Affiliate.Tag == "" {
		slog.Warn("AMAZON_AFFILIATE_TAG is not set, referral links will be empty")
	}

	session := scraper.New(backend, ext, pace, cfg.Scraper, scraper.Options{
		Cache:   cache.New(cfg.Scraper.CacheSize, cfg.Scraper.CacheTTL),
		Metrics: m,
	})

	out, src, err := sink.New(ctx, cfg.Sink, cfg.Scraper.BaseURL)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("initialise %s sink: %w", cfg.Sink.Kind, err)
	}

	orch := jobs.New(jobs.Options{
		Scraper:   session,
		Extractor: ext,
		Sink:      out,
		Source:    src,
		Notifier:  webhook.New(cfg.Jobs.WebhookURL, cfg.Jobs.WebhookSecret),
		Metrics:   m,
		Pace:      &pacing.Policy{MinDelay: cfg.Jobs.MinURLDelay, MaxDelay: cfg.Jobs.MaxURLDelay},
		Retention: cfg.Jobs.Retention,
	})

	slog.Info("components ready",
		"backend", backend.Name(),
		"sink", out.Name(),
		"baseUrl", cfg.Scraper.BaseURL,
		"delay", fmt.Sprintf("%s-%s", cfg.Scraper.MinDelay, cfg.Scraper.MaxDelay),
	)
	return &app{backend: backend, session: session, jobs: orch, metrics: m}, nil
}

// close stops the running job and releases the backend.
func (a *app) close() {
	done := make(chan struct{})
	go func() {
		a.jobs.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("running job did not stop in time")
	}
	if err := a.backend.Close(); err != nil {
		slog.Warn("backend close failed", "error", err)
	}
}
