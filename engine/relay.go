package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/models"
	"golang.org/x/time/rate"
)

// RelayEngine fetches pages through an upstream unblocking relay that
// renders the page and rotates egress on its side.
type RelayEngine struct {
	client  *resty.Client
	cfg     config.RelayConfig
	baseURL string
}

// NewRelayEngine creates a RelayEngine. A missing API key is not an error
// here; Acquire reports it before any request is made.
func NewRelayEngine(cfg config.RelayConfig, baseURL string) *RelayEngine {
	client := resty.New()
	client.SetTransport(NewChromeTransport(nil))
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &RelayEngine{
		client:  client,
		cfg:     cfg,
		baseURL: baseURL,
	}
}

// Client exposes the underlying resty client (tests swap its transport).
func (e *RelayEngine) Client() *resty.Client { return e.client }

func (e *RelayEngine) Name() string { return config.BackendRelay }

// Acquire fetches req.Target through the relay.
func (e *RelayEngine) Acquire(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.cfg.APIKey == "" {
		return nil, models.NewScrapeError(
			models.ErrCodeConfigMissing,
			"SCRAPER_API_KEY is not set; direct access is blocked by the site",
			nil,
		)
	}

	target := ResolveTarget(e.baseURL, req.Target)
	slog.Debug("relay fetch", "url", target)

	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_key":      e.cfg.APIKey,
			"url":          target,
			"country_code": e.cfg.CountryCode,
			"render":       strconv.FormatBool(e.cfg.Render),
			"premium":      strconv.FormatBool(e.cfg.Premium),
		}).
		Get(e.cfg.Endpoint)
	if err != nil {
		return nil, categorizeError(err, "relay request failed")
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, models.NewScrapeError(
			models.ErrCodeConfigMissing,
			fmt.Sprintf("relay rejected the API key (status %d)", code),
			nil,
		)
	case code >= 400:
		return nil, models.NewScrapeError(
			models.ErrCodeNavigation,
			fmt.Sprintf("relay returned status %d", code),
			nil,
		)
	}

	body := resp.String()
	return &FetchResult{
		HTML:       body,
		Title:      extractTitle(body),
		StatusCode: resp.StatusCode(),
		FinalURL:   target,
		EngineName: e.Name(),
	}, nil
}

// Close releases idle connections.
func (e *RelayEngine) Close() error {
	e.client.GetClient().CloseIdleConnections()
	return nil
}
