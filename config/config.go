package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by ScraperConfig.Backend.
const (
	BackendRelay   = "relay"
	BackendBrowser = "browser"
)

// Sink kinds accepted by SinkConfig.Kind.
const (
	SinkCSV    = "csv"
	SinkSheets = "sheets"
	SinkNone   = "none"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Browser     BrowserConfig
	Scraper     ScraperConfig
	Acquisition AcquisitionConfig
	Relay       RelayConfig
	Affiliate   AffiliateConfig
	Jobs        JobsConfig
	Sink        SinkConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 3000
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// DefaultProxy is an explicit proxy URL. It takes precedence over the
	// relay's proxy mode.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// BlockAds drops requests to known ad and tracking hosts.
	BlockAds bool // default: true
}

// ScraperConfig controls the scrape session.
type ScraperConfig struct {
	// Backend selects the acquisition backend: "relay" or "browser".
	Backend string // default: "relay"

	// BaseURL is the storefront root used for homepage navigation,
	// relative links and referral links.
	BaseURL string // default: "https://www.amazon.com"

	// MinDelay and MaxDelay bound the pause taken after every page fetch.
	MinDelay time.Duration // default: 8s (relay), 1s (browser)
	MaxDelay time.Duration // default: 10s (relay), 3s (browser)

	// MaxResults stops extraction early; 0 means unlimited.
	MaxResults int

	// MinContentLength is the size floor below which a page is treated as
	// an interstitial.
	MinContentLength int // default: 8000

	// MaxImages caps the image list of each record.
	MaxImages int // default: 5

	// DetailLimit enriches the first N records of each search from their
	// product page; 0 disables enrichment.
	DetailLimit int

	// MaxAttempts, RetryBackoff and RetryBackoffMax drive fetch retries.
	MaxAttempts     int           // default: 2
	RetryBackoff    time.Duration // default: 2s
	RetryBackoffMax time.Duration // default: 20s

	// CacheTTL keeps results per URL; 0 disables the cache.
	CacheTTL  time.Duration
	CacheSize int // default: 256

	// DebugDumpPath, when set, receives the last fetched page.
	DebugDumpPath string
}

// AcquisitionConfig controls the browser navigation state machine.
type AcquisitionConfig struct {
	// Region is the text the location indicator must contain.
	Region string // default: "United States"

	// ZipCode is entered in the region-change control.
	ZipCode string // default: "10001"

	Language string // default: "en_US"
	Currency string // default: "USD"

	NavigationTimeout time.Duration // default: 15s
	ResultsTimeout    time.Duration // default: 20s
	CaptchaWait       time.Duration // default: 30s
	RegionSettle      time.Duration // default: 3s

	// AcquireTimeout bounds one whole acquisition, captcha wait included.
	AcquireTimeout time.Duration // default: 3m
}

// RelayConfig controls the upstream unblocking relay.
type RelayConfig struct {
	APIKey            string
	Endpoint          string        // default: "https://api.scraperapi.com/"
	ProxyHost         string        // default: "proxy-server.scraperapi.com:8001"
	CountryCode       string        // default: "us"
	Render            bool          // default: true
	Premium           bool          // default: true
	Timeout           time.Duration // default: 90s
	RequestsPerSecond float64       // default: 1
}

// AffiliateConfig controls referral link generation.
type AffiliateConfig struct {
	Tag string
}

// JobsConfig controls the job orchestrator.
type JobsConfig struct {
	MinURLDelay   time.Duration // default: 5s
	MaxURLDelay   time.Duration // default: 8s
	Retention     time.Duration // default: 24h
	WebhookURL    string
	WebhookSecret string
}

// SinkConfig controls where results are written and where sheet-driven
// runs read their URLs from.
type SinkConfig struct {
	Kind      string // "csv", "sheets" or "none"; default: "csv"
	CSVDir    string // default: "output"
	WriteMode string // "overwrite" or "append"; default: "overwrite"

	SpreadsheetID string
	InputRange    string // default: "Sheet1!A2:A"
	OutputSheet   string // default: "Products"

	CredentialsFile string
	ClientEmail     string
	PrivateKey      string
	ProjectID       string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string
	OAuthRefreshToken string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from a .env file (if present) and environment
// variables, with sane defaults.
func Load() *Config {
	_ = godotenv.Load()

	backend := envOr("SCRAPER_BACKEND", BackendRelay)
	minDelay, maxDelay := 8*time.Second, 10*time.Second
	if backend == BackendBrowser {
		minDelay, maxDelay = 1*time.Second, 3*time.Second
	}

	return &Config{
		Server: ServerConfig{
			Host: envOr("API_HOST", "0.0.0.0"),
			Port: envIntOr("API_PORT", 3000),
			Mode: envOr("API_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("BROWSER_HEADLESS", true),
			DefaultProxy: os.Getenv("BROWSER_PROXY"),
			NoSandbox:    envBoolOr("BROWSER_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("BROWSER_BIN"),
			BlockedResourceTypes: envSliceOr("BROWSER_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			BlockAds: envBoolOr("BROWSER_BLOCK_ADS", true),
		},
		Scraper: ScraperConfig{
			Backend:          backend,
			BaseURL:          strings.TrimRight(envOr("STORE_BASE_URL", "https://www.amazon.com"), "/"),
			MinDelay:         envDurationOr("SCRAPER_MIN_DELAY", minDelay),
			MaxDelay:         envDurationOr("SCRAPER_MAX_DELAY", maxDelay),
			MaxResults:       envIntOr("PRODUCT_LIMIT", 0),
			MinContentLength: envIntOr("SCRAPER_MIN_CONTENT_LENGTH", 8000),
			MaxImages:        envIntOr("SCRAPER_MAX_IMAGES", 5),
			DetailLimit:      envIntOr("DETAIL_LIMIT", 0),
			MaxAttempts:      envIntOr("SCRAPER_MAX_ATTEMPTS", 2),
			RetryBackoff:     envDurationOr("SCRAPER_RETRY_BACKOFF", 2*time.Second),
			RetryBackoffMax:  envDurationOr("SCRAPER_RETRY_BACKOFF_MAX", 20*time.Second),
			CacheTTL:         envDurationOr("SCRAPER_CACHE_TTL", 0),
			CacheSize:        envIntOr("SCRAPER_CACHE_SIZE", 256),
			DebugDumpPath:    os.Getenv("SCRAPER_DEBUG_DUMP"),
		},
		Acquisition: AcquisitionConfig{
			Region:            envOr("ACQ_REGION", "United States"),
			ZipCode:           envOr("ACQ_ZIP_CODE", "10001"),
			Language:          envOr("ACQ_LANGUAGE", "en_US"),
			Currency:          envOr("ACQ_CURRENCY", "USD"),
			NavigationTimeout: envDurationOr("ACQ_NAV_TIMEOUT", 15*time.Second),
			ResultsTimeout:    envDurationOr("ACQ_RESULTS_TIMEOUT", 20*time.Second),
			CaptchaWait:       envDurationOr("ACQ_CAPTCHA_WAIT", 30*time.Second),
			RegionSettle:      envDurationOr("ACQ_REGION_SETTLE", 3*time.Second),
			AcquireTimeout:    envDurationOr("ACQ_TIMEOUT", 3*time.Minute),
		},
		Relay: RelayConfig{
			APIKey:            os.Getenv("SCRAPER_API_KEY"),
			Endpoint:          envOr("SCRAPER_API_ENDPOINT", "https://api.scraperapi.com/"),
			ProxyHost:         envOr("SCRAPER_API_PROXY", "proxy-server.scraperapi.com:8001"),
			CountryCode:       envOr("SCRAPER_API_COUNTRY", "us"),
			Render:            envBoolOr("SCRAPER_API_RENDER", true),
			Premium:           envBoolOr("SCRAPER_API_PREMIUM", true),
			Timeout:           envDurationOr("SCRAPER_API_TIMEOUT", 90*time.Second),
			RequestsPerSecond: envFloatOr("SCRAPER_API_RPS", 1),
		},
		Affiliate: AffiliateConfig{
			Tag: os.Getenv("AMAZON_AFFILIATE_TAG"),
		},
		Jobs: JobsConfig{
			MinURLDelay:   envDurationOr("JOB_MIN_URL_DELAY", 5*time.Second),
			MaxURLDelay:   envDurationOr("JOB_MAX_URL_DELAY", 8*time.Second),
			Retention:     envDurationOr("JOB_RETENTION", 24*time.Hour),
			WebhookURL:    os.Getenv("JOB_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("JOB_WEBHOOK_SECRET"),
		},
		Sink: SinkConfig{
			Kind:              envOr("SINK", SinkCSV),
			CSVDir:            envOr("SINK_CSV_DIR", "output"),
			WriteMode:         envOr("SINK_WRITE_MODE", "overwrite"),
			SpreadsheetID:     os.Getenv("GOOGLE_SPREADSHEET_ID"),
			InputRange:        envOr("INPUT_RANGE", "Sheet1!A2:A"),
			OutputSheet:       envOr("OUTPUT_SHEET", "Products"),
			CredentialsFile:   envOr("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
			ClientEmail:       os.Getenv("GOOGLE_CLIENT_EMAIL"),
			PrivateKey:        strings.ReplaceAll(os.Getenv("GOOGLE_PRIVATE_KEY"), `\n`, "\n"),
			ProjectID:         os.Getenv("GOOGLE_PROJECT_ID"),
			OAuthClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			OAuthClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			OAuthRedirectURI:  os.Getenv("GOOGLE_REDIRECT_URI"),
			OAuthRefreshToken: os.Getenv("GOOGLE_REFRESH_TOKEN"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("API_AUTH_ENABLED", false),
			APIKeys: envSliceOr("API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("API_RATE_RPS", 5.0),
			Burst:             envIntOr("API_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.Scraper.Backend {
	case BackendRelay, BackendBrowser:
	default:
		return fmt.Errorf("scraper backend must be %q or %q, got %q", BackendRelay, BackendBrowser, c.Scraper.Backend)
	}

	u, err := url.Parse(c.Scraper.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Scraper.MinDelay < 0 || c.Scraper.MaxDelay < 0 {
		return fmt.Errorf("scraper delays cannot be negative")
	}
	if c.Scraper.MinDelay > c.Scraper.MaxDelay {
		return fmt.Errorf("min delay (%s) cannot exceed max delay (%s)", c.Scraper.MinDelay, c.Scraper.MaxDelay)
	}
	if c.Jobs.MinURLDelay > c.Jobs.MaxURLDelay {
		return fmt.Errorf("min url delay (%s) cannot exceed max url delay (%s)", c.Jobs.MinURLDelay, c.Jobs.MaxURLDelay)
	}
	if c.Scraper.MaxResults < 0 {
		return fmt.Errorf("product limit cannot be negative")
	}
	if c.Scraper.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}

	switch c.Sink.Kind {
	case SinkCSV, SinkNone:
	case SinkSheets:
		if c.Sink.SpreadsheetID == "" {
			return fmt.Errorf("GOOGLE_SPREADSHEET_ID is required for the sheets sink")
		}
	default:
		return fmt.Errorf("sink must be csv, sheets or none, got %q", c.Sink.Kind)
	}
	if c.Sink.WriteMode != "overwrite" && c.Sink.WriteMode != "append" {
		return fmt.Errorf("sink write mode must be overwrite or append")
	}

	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
