package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/shopscrape/cache"
	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/engine"
	"github.com/use-agent/shopscrape/extractor"
	"github.com/use-agent/shopscrape/metrics"
	"github.com/use-agent/shopscrape/models"
	"github.com/use-agent/shopscrape/pacing"
)

// productReadySelectors signal that a product page has rendered.
var productReadySelectors = []string{"#productTitle", "#dp-container", "#ppd"}

// Session composes acquisition and extraction into one "target to records"
// operation. It is safe for concurrent use as far as its Backend is; the
// browser backend serializes acquisitions itself.
type Session struct {
	backend    engine.Backend
	ext        *extractor.Extractor
	pace       *pacing.Policy
	detailPace *pacing.Policy
	cache      *cache.Cache
	metrics    *metrics.Metrics
	cfg        config.ScraperConfig
	now        func() time.Time
}

// Options carries the optional collaborators of a Session.
type Options struct {
	Cache   *cache.Cache
	Metrics *metrics.Metrics

	// DetailPace paces product-page fetches during enrichment. Nil means
	// a 3-5s window.
	DetailPace *pacing.Policy

	// Now stamps records. Nil means time.Now.
	Now func() time.Time
}

// New creates a Session.
func New(backend engine.Backend, ext *extractor.Extractor, pace *pacing.Policy, cfg config.ScraperConfig, opts Options) *Session {
	if pace == nil {
		pace = &pacing.Policy{}
	}
	detail := opts.DetailPace
	if detail == nil {
		detail = &pacing.Policy{MinDelay: 3 * time.Second, MaxDelay: 5 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		backend:    backend,
		ext:        ext,
		pace:       pace,
		detailPace: detail,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		cfg:        cfg,
		now:        now,
	}
}

// Backend returns the acquisition backend in use.
func (s *Session) Backend() engine.Backend { return s.backend }

// ScrapeSearchResults acquires target, validates the markup and extracts
// up to the configured number of records. target is a results URL or a
// plain search term.
func (s *Session) ScrapeSearchResults(ctx context.Context, target string) ([]models.ProductRecord, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "empty target", nil)
	}

	resolved := engine.ResolveTarget(s.cfg.BaseURL, target)
	key := cache.Key(resolved, s.backend.Name(), s.cfg.MaxResults)
	if recs, ok := s.cache.Get(key); ok {
		s.metrics.IncCacheHit()
		slog.Info("search results served from cache", "target", resolved, "products", len(recs))
		return recs, nil
	}

	slog.Info("scraping search results", "target", resolved, "backend", s.backend.Name())

	res, err := s.fetch(ctx, &engine.FetchRequest{Target: target})
	if err != nil {
		s.metrics.IncError(models.CodeOf(err))
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "failed to parse results page", err)
	}

	records := s.ext.SearchResults(doc, s.now(), s.cfg.MaxResults)
	if len(records) == 0 {
		slog.Warn("no products extracted", "target", resolved, "title", res.Title)
	}

	if s.cfg.DetailLimit > 0 {
		s.EnrichDetails(ctx, records, s.cfg.DetailLimit)
	}

	s.metrics.AddProducts(len(records))
	s.cache.Set(key, records)
	slog.Info("search results extracted", "target", resolved, "products", len(records))
	return records, nil
}

// fetch acquires one page under the retry policy. Every successful fetch
// is followed by the pacing pause, whether or not its content passes
// validation.
func (s *Session) fetch(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	var (
		res     *engine.FetchResult
		attempt int
	)
	err := s.pace.Retry(ctx, func() error {
		attempt++
		if attempt > 1 {
			s.metrics.IncRetries()
		}

		start := time.Now()
		r, err := s.backend.Acquire(ctx, req)
		s.metrics.ObserveAcquire(s.backend.Name(), time.Since(start), err)
		if err != nil {
			slog.Warn("acquisition failed", "target", req.Target, "attempt", attempt, "error", err)
			return err
		}

		if err := s.pace.Pause(ctx); err != nil {
			return err
		}
		s.dump(r.HTML)

		if err := ValidateContent(r.HTML, s.cfg.MinContentLength); err != nil {
			slog.Warn("content rejected", "target", req.Target, "attempt", attempt, "bytes", len(r.HTML), "error", err)
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EnrichDetails fills the first limit records from their product pages.
// A record whose page cannot be fetched or parsed is left as it was. Each
// fetched page is followed by the detail pause.
func (s *Session) EnrichDetails(ctx context.Context, records []models.ProductRecord, limit int) {
	n := min(limit, len(records))
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		rec := &records[i]
		if rec.CanonicalLink == "" {
			continue
		}

		res, err := s.backend.Acquire(ctx, &engine.FetchRequest{
			Target:         rec.CanonicalLink,
			ReadySelectors: productReadySelectors,
		})
		if err != nil {
			slog.Warn("product page fetch failed, keeping search data", "itemId", rec.ItemID, "error", err)
			continue
		}
		if err := s.detailPace.Pause(ctx); err != nil {
			return
		}
		if err := ValidateContent(res.HTML, s.cfg.MinContentLength); err != nil {
			slog.Warn("product page rejected, keeping search data", "itemId", rec.ItemID, "error", err)
			continue
		}

		detail, err := s.ext.ProductPage(res.HTML, rec.CanonicalLink)
		if err != nil {
			slog.Warn("product page parse failed, keeping search data", "itemId", rec.ItemID, "error", err)
			continue
		}
		extractor.Enrich(rec, detail, s.cfg.MaxImages)
		slog.Debug("product enriched", "itemId", rec.ItemID, "images", len(rec.ImageURLs))
	}
}

// dump writes the last fetched page for offline inspection.
func (s *Session) dump(html string) {
	if s.cfg.DebugDumpPath == "" {
		return
	}
	if err := os.WriteFile(s.cfg.DebugDumpPath, []byte(html), 0o644); err != nil {
		slog.Warn("debug dump failed", "path", s.cfg.DebugDumpPath, "error", err)
		return
	}
	slog.Debug("page dumped", "path", s.cfg.DebugDumpPath, "bytes", len(html))
}

// blockMarkers appear on challenge and interstitial pages, never on a
// results page.
var blockMarkers = []string{
	"cf-challenge",
	"Enable JavaScript",
	"/errors/validateCaptcha",
}

// ValidateContent rejects markup that looks like an anti-bot interstitial:
// anything shorter than minLength, or carrying a known block marker.
func ValidateContent(html string, minLength int) error {
	if len(html) < minLength {
		return models.NewScrapeError(
			models.ErrCodeBlocked,
			fmt.Sprintf("content too short (%d < %d bytes)", len(html), minLength),
			nil,
		)
	}
	for _, m := range blockMarkers {
		if strings.Contains(html, m) {
			return models.NewScrapeError(
				models.ErrCodeBlocked,
				fmt.Sprintf("block page marker %q found", m),
				nil,
			)
		}
	}
	return nil
}
