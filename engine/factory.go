package engine

import (
	"fmt"

	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/pacing"
)

// New builds the backend named by cfg.Scraper.Backend.
func New(cfg *config.Config, pace *pacing.Policy) (Backend, error) {
	switch cfg.Scraper.Backend {
	case config.BackendRelay:
		return NewRelayEngine(cfg.Relay, cfg.Scraper.BaseURL), nil
	case config.BackendBrowser:
		return NewBrowserEngine(cfg.Browser, cfg.Acquisition, cfg.Relay, cfg.Scraper.BaseURL, pace)
	default:
		return nil, fmt.Errorf("engine: unknown backend %q", cfg.Scraper.Backend)
	}
}
