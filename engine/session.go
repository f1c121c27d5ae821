package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/shopscrape/models"
	"github.com/use-agent/shopscrape/pacing"
)

// State is a step of the acquisition state machine.
type State int

const (
	StateStart State = iota
	StateHomepageLoaded
	StateRegionVerified
	StateSearchSubmitted
	StateDirectLoaded
	StateResultsPresent
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateHomepageLoaded:
		return "homepage_loaded"
	case StateRegionVerified:
		return "region_verified"
	case StateSearchSubmitted:
		return "search_submitted"
	case StateDirectLoaded:
		return "direct_loaded"
	case StateResultsPresent:
		return "results_present"
	case StateBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Page controls the state machine reads and clicks.
const (
	selLocation       = "#glow-ingress-line2"
	selLocationOpen   = "#nav-global-location-popover-link"
	selZipInput       = "#GLUXZipUpdateInput"
	selZipApply       = "#GLUXZipUpdate"
	selZipDone        = "#GLUXConfirmClose"
	selSearchInput    = "#twotabsearchtextbox"
	selSearchSubmit   = "#nav-search-submit-button"
	selCaptcha        = "#captchacharacters"
	selContinueButton = `form[action*="validateCaptcha"] button[type="submit"], form[action*="validateCaptcha"] input[type="submit"]`
)

// Flags are the interstitial observations of one session.
type Flags struct {
	LocationMismatch bool
	BotCheckPresent  bool
	CaptchaPresent   bool
}

// SessionConfig parameterizes one acquisition.
type SessionConfig struct {
	BaseURL           string
	Region            string
	ZipCode           string
	Language          string
	Currency          string
	NavigationTimeout time.Duration
	ResultsTimeout    time.Duration
	CaptchaWait       time.Duration
	RegionSettle      time.Duration
	ReadySelectors    []string
}

// Session drives one Driver from Start to ResultsPresent or Blocked. It
// owns the driver exclusively and is not safe for concurrent use.
type Session struct {
	driver  Driver
	cfg     SessionConfig
	pace    *pacing.Policy
	state   State
	flags   Flags
	lastURL string
	trail   []State
}

// NewSession creates a Session in StateStart.
func NewSession(driver Driver, cfg SessionConfig, pace *pacing.Policy) *Session {
	if len(cfg.ReadySelectors) == 0 {
		cfg.ReadySelectors = DefaultReadySelectors
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if pace == nil {
		pace = &pacing.Policy{}
	}
	return &Session{driver: driver, cfg: cfg, pace: pace, trail: []State{StateStart}}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Flags returns what the session observed along the way.
func (s *Session) Flags() Flags { return s.flags }

// Trail returns every state visited, in order.
func (s *Session) Trail() []State { return append([]State(nil), s.trail...) }

func (s *Session) enter(st State) {
	slog.Debug("acquisition state", "from", s.state, "to", st, "url", s.lastURL)
	s.state = st
	s.trail = append(s.trail, st)
}

func (s *Session) block(msg string, err error) error {
	s.enter(StateBlocked)
	return models.NewScrapeError(models.ErrCodeBlocked, msg, err)
}

// Run takes the search flow when target carries a search term and the
// direct flow otherwise, then waits for results.
func (s *Session) Run(ctx context.Context, target string) (*FetchResult, error) {
	var err error
	if term, ok := SearchTerm(target); ok {
		err = s.searchFlow(ctx, term)
	} else {
		err = s.directFlow(ctx, target)
	}
	if err != nil {
		return nil, err
	}

	if err := s.awaitResults(ctx); err != nil {
		return nil, err
	}

	html, err := s.driver.HTML()
	if err != nil {
		return nil, err
	}
	return &FetchResult{
		HTML:       html,
		Title:      s.driver.Title(),
		FinalURL:   s.driver.URL(),
		EngineName: "browser",
	}, nil
}

func (s *Session) searchFlow(ctx context.Context, term string) error {
	if err := s.driver.SetCookies(s.regionCookies()); err != nil {
		slog.Warn("setting region cookies failed", "error", err)
	}

	if err := s.load(ctx, s.cfg.BaseURL+"/"); err != nil {
		return err
	}
	if err := s.correctRegionRedirect(ctx); err != nil {
		return err
	}
	s.enter(StateHomepageLoaded)

	if err := s.verifyRegion(ctx); err != nil {
		return err
	}
	s.enter(StateRegionVerified)

	err := s.bounded(ctx, "search input", func(ctx context.Context) error {
		return s.driver.Input(ctx, selSearchInput, term)
	})
	if err != nil {
		if models.IsCode(err, models.ErrCodeTimeout) {
			return err
		}
		return models.NewScrapeError(models.ErrCodeNavigation, "search box not available", err)
	}
	if err := s.driver.ClickAndWait(ctx, selSearchSubmit, s.cfg.NavigationTimeout); err != nil {
		if !models.IsCode(err, models.ErrCodeTimeout) || ctx.Err() != nil {
			return models.NewScrapeError(models.ErrCodeNavigation, "search submit failed", err)
		}
		slog.Warn("search navigation timed out, continuing", "term", term)
	}
	s.lastURL = s.driver.URL()
	s.enter(StateSearchSubmitted)

	return s.handleInterstitials(ctx)
}

func (s *Session) directFlow(ctx context.Context, target string) error {
	if err := s.driver.SetCookies(s.regionCookies()); err != nil {
		slog.Warn("setting region cookies failed", "error", err)
	}
	if err := s.navigate(ctx, target); err != nil {
		return err
	}
	s.enter(StateDirectLoaded)
	return s.handleInterstitials(ctx)
}

// load navigates, paces and clears interstitials. Intermediate pages go
// through here; the final results page is paced by the scrape session.
func (s *Session) load(ctx context.Context, u string) error {
	if err := s.navigate(ctx, u); err != nil {
		return err
	}
	if err := s.pace.Pause(ctx); err != nil {
		return err
	}
	return s.handleInterstitials(ctx)
}

func (s *Session) navigate(ctx context.Context, u string) error {
	err := s.bounded(ctx, "navigation", func(ctx context.Context) error {
		return s.driver.Navigate(ctx, u)
	})
	if err != nil {
		if models.IsCode(err, models.ErrCodeTimeout) && ctx.Err() == nil {
			slog.Warn("navigation timed out, continuing", "url", u)
		} else {
			return err
		}
	}
	s.lastURL = s.driver.URL()
	return nil
}

// bounded runs one driver operation under NavigationTimeout. A deadline
// hit while ctx is still live comes back as a timeout error.
func (s *Session) bounded(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.cfg.NavigationTimeout <= 0 {
		return fn(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := fn(opCtx)
	if err == nil || ctx.Err() != nil || opCtx.Err() == nil {
		return err
	}
	if models.IsCode(err, models.ErrCodeTimeout) {
		return err
	}
	return models.NewScrapeError(models.ErrCodeTimeout, op+" timed out", err)
}

func (s *Session) click(ctx context.Context, selector string) error {
	return s.bounded(ctx, "click", func(ctx context.Context) error {
		return s.driver.Click(ctx, selector)
	})
}

// correctRegionRedirect detects a redirect to another storefront and
// navigates back once.
func (s *Session) correctRegionRedirect(ctx context.Context) error {
	want := hostOf(s.cfg.BaseURL)
	got := hostOf(s.lastURL)
	if got == "" || got == want {
		return nil
	}

	s.flags.LocationMismatch = true
	slog.Warn("redirected to another storefront, correcting", "want", want, "got", got)

	if err := s.driver.SetCookies(s.regionCookies()); err != nil {
		slog.Warn("setting region cookies failed", "error", err)
	}
	return s.load(ctx, s.cfg.BaseURL+"/")
}

// verifyRegion checks the location indicator and runs the region change
// control once if it does not show the desired region.
func (s *Session) verifyRegion(ctx context.Context) error {
	if s.regionMatches() {
		return nil
	}
	s.flags.LocationMismatch = true
	slog.Warn("location indicator mismatch, changing region", "want", s.cfg.Region, "zip", s.cfg.ZipCode)

	if err := s.changeRegion(ctx); err != nil {
		slog.Warn("region change failed, continuing", "error", err)
		return nil
	}
	if !s.regionMatches() {
		slog.Warn("region still differs after one correction, continuing")
	}
	return nil
}

func (s *Session) regionMatches() bool {
	text, ok := s.driver.Text(selLocation)
	if !ok {
		// No indicator means nothing to correct against.
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.Region)) ||
		(s.cfg.ZipCode != "" && strings.Contains(text, s.cfg.ZipCode))
}

func (s *Session) changeRegion(ctx context.Context) error {
	if err := s.click(ctx, selLocationOpen); err != nil {
		return err
	}
	if _, err := s.driver.WaitAny(ctx, s.cfg.NavigationTimeout, selZipInput); err != nil {
		return err
	}
	err := s.bounded(ctx, "zip input", func(ctx context.Context) error {
		return s.driver.Input(ctx, selZipInput, s.cfg.ZipCode)
	})
	if err != nil {
		return err
	}
	if err := s.click(ctx, selZipApply); err != nil {
		return err
	}
	if err := pacing.Sleep(ctx, s.cfg.RegionSettle); err != nil {
		return err
	}
	if s.driver.Has(selZipDone) {
		if err := s.click(ctx, selZipDone); err != nil {
			slog.Debug("closing region dialog failed", "error", err)
		}
	}
	return s.load(ctx, s.cfg.BaseURL+"/")
}

// handleInterstitials clears a bot-check page and gives a CAPTCHA one
// bounded wait. After that wait the flow proceeds optimistically.
func (s *Session) handleInterstitials(ctx context.Context) error {
	if s.driver.Has(selCaptcha) {
		s.flags.CaptchaPresent = true
		if s.cfg.CaptchaWait <= 0 {
			return s.block("captcha challenge", nil)
		}
		slog.Warn("captcha present, waiting for manual intervention", "wait", s.cfg.CaptchaWait, "url", s.lastURL)
		if err := pacing.Sleep(ctx, s.cfg.CaptchaWait); err != nil {
			return err
		}
		s.lastURL = s.driver.URL()
		return nil
	}

	if s.driver.Has(selContinueButton) {
		s.flags.BotCheckPresent = true
		slog.Warn("bot check present, continuing through it", "url", s.lastURL)
		if err := s.driver.ClickAndWait(ctx, selContinueButton, s.cfg.NavigationTimeout); err != nil {
			if !models.IsCode(err, models.ErrCodeTimeout) || ctx.Err() != nil {
				return s.block("bot check could not be cleared", err)
			}
			slog.Warn("bot check navigation timed out, continuing")
		}
		s.lastURL = s.driver.URL()
	}
	return nil
}

// awaitResults is the success boundary of the state machine.
func (s *Session) awaitResults(ctx context.Context) error {
	matched, err := s.driver.WaitAny(ctx, s.cfg.ResultsTimeout, s.cfg.ReadySelectors...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := "no result content appeared"
		if s.flags.CaptchaPresent {
			msg = "no result content appeared after captcha"
		}
		return s.block(msg, err)
	}
	slog.Debug("results present", "selector", matched, "url", s.lastURL)
	s.enter(StateResultsPresent)
	return nil
}

func (s *Session) regionCookies() []*http.Cookie {
	domain := "." + strings.TrimPrefix(hostOf(s.cfg.BaseURL), "www.")
	var cookies []*http.Cookie
	if s.cfg.Currency != "" {
		cookies = append(cookies, &http.Cookie{Name: "i18n-prefs", Value: s.cfg.Currency, Domain: domain, Path: "/"})
	}
	if s.cfg.Language != "" {
		cookies = append(cookies, &http.Cookie{Name: "lc-main", Value: s.cfg.Language, Domain: domain, Path: "/"})
	}
	return cookies
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
