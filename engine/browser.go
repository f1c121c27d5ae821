package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/models"
	"github.com/use-agent/shopscrape/pacing"
)

// BrowserEngine acquires pages by steering a stealth Chromium through the
// acquisition state machine. One acquisition runs at a time.
type BrowserEngine struct {
	browser   *rod.Browser
	browserCf config.BrowserConfig
	acqCfg    config.AcquisitionConfig
	baseURL   string
	pace      *pacing.Policy
	proxyAuth bool

	mu sync.Mutex
}

// NewBrowserEngine launches Chromium. Traffic goes through the relay's
// proxy port when a relay key is configured; without one the browser
// connects directly and a warning is logged.
func NewBrowserEngine(bc config.BrowserConfig, ac config.AcquisitionConfig, rc config.RelayConfig, baseURL string, pace *pacing.Policy) (*BrowserEngine, error) {
	l := launcher.New().
		Headless(bc.Headless).
		NoSandbox(bc.NoSandbox)

	if bc.BrowserBin != "" {
		l = l.Bin(bc.BrowserBin)
	}

	proxyAuth := false
	switch {
	case bc.DefaultProxy != "":
		l = l.Proxy(bc.DefaultProxy)
	case rc.APIKey != "" && rc.ProxyHost != "":
		l = l.Proxy("http://" + rc.ProxyHost)
		proxyAuth = true
	default:
		slog.Warn("SCRAPER_API_KEY not set: browser will access the site directly and is likely to be blocked")
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("lang"), "en-US")
	l.Set(flags.Flag("window-size"), "1366,900")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL, "proxied", proxyAuth || bc.DefaultProxy != "")

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	if proxyAuth {
		user := relayProxyUser(rc)
		go func() {
			for {
				if err := browser.HandleAuth(user, rc.APIKey)(); err != nil {
					slog.Debug("proxy auth handler stopped", "error", err)
					return
				}
			}
		}()
	}

	return &BrowserEngine{
		browser:   browser,
		browserCf: bc,
		acqCfg:    ac,
		baseURL:   baseURL,
		pace:      pace,
		proxyAuth: proxyAuth,
	}, nil
}

// relayProxyUser encodes relay options in the proxy username.
func relayProxyUser(rc config.RelayConfig) string {
	user := "scraperapi"
	if rc.CountryCode != "" {
		user += ".country_code=" + url.QueryEscape(rc.CountryCode)
	}
	if rc.Premium {
		user += ".premium=true"
	}
	return user
}

func (e *BrowserEngine) Name() string { return config.BackendBrowser }

// Acquire opens a fresh stealth page and runs the state machine on it.
func (e *BrowserEngine) Acquire(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	page, err := e.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			slog.Warn("closing page failed", "error", cerr)
		}
	}()

	// Stealth and blocking only apply to navigations after they are installed.
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}
	err = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{
			"Accept-Language": "en-US,en;q=0.9",
		}),
	}.Call(page)
	if err != nil {
		slog.Warn("setting extra headers failed", "error", err)
	}

	// Request interception and proxy auth share the Fetch domain.
	if !e.proxyAuth {
		if router := setupHijack(page, e.browserCf.BlockedResourceTypes, e.browserCf.BlockAds); router != nil {
			defer func() { _ = router.Stop() }()
		}
	}

	runCtx, cancel := acquireContext(ctx, e.acqCfg.AcquireTimeout)
	defer cancel()

	sess := NewSession(newRodDriver(page, e.acqCfg.NavigationTimeout), e.sessionConfig(req), e.pace)
	res, err := sess.Run(runCtx, req.Target)
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			err = models.NewScrapeError(models.ErrCodeTimeout, "acquisition deadline exceeded", err)
		}
		return nil, fmt.Errorf("browser acquisition ended in %s: %w", sess.State(), err)
	}
	slog.Debug("browser acquisition done",
		"state", sess.State(),
		"locationMismatch", sess.Flags().LocationMismatch,
		"botCheck", sess.Flags().BotCheckPresent,
		"captcha", sess.Flags().CaptchaPresent,
	)
	return res, nil
}

// acquireContext caps one acquisition so a hung page releases the engine.
func acquireContext(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}

func (e *BrowserEngine) sessionConfig(req *FetchRequest) SessionConfig {
	return SessionConfig{
		BaseURL:           e.baseURL,
		Region:            e.acqCfg.Region,
		ZipCode:           e.acqCfg.ZipCode,
		Language:          e.acqCfg.Language,
		Currency:          e.acqCfg.Currency,
		NavigationTimeout: e.acqCfg.NavigationTimeout,
		ResultsTimeout:    e.acqCfg.ResultsTimeout,
		CaptchaWait:       e.acqCfg.CaptchaWait,
		RegionSettle:      e.acqCfg.RegionSettle,
		ReadySelectors:    req.ReadySelectors,
	}
}

// Close kills the browser process.
func (e *BrowserEngine) Close() error {
	slog.Info("browser engine shutting down")
	return e.browser.Close()
}
