package scraper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/shopscrape/cache"
	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/engine"
	"github.com/use-agent/shopscrape/extractor"
	"github.com/use-agent/shopscrape/models"
	"github.com/use-agent/shopscrape/pacing"
)

const testBase = "https://www.example-shop.com"

type reply struct {
	html string
	err  error
}

// fakeBackend answers each target from a queue; the last reply repeats.
type fakeBackend struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []*engine.FetchRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{replies: make(map[string][]reply)}
}

func (b *fakeBackend) on(target string, rs ...reply) {
	b.replies[target] = append(b.replies[target], rs...)
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Acquire(_ context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)

	queue := b.replies[req.Target]
	if len(queue) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeNavigation, "no reply scripted for "+req.Target, nil)
	}
	r := queue[0]
	if len(queue) > 1 {
		b.replies[req.Target] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &engine.FetchResult{HTML: r.html, EngineName: "fake"}, nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type sleeps struct {
	mu sync.Mutex
	n  int
}

func (s *sleeps) sleep(context.Context, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func (s *sleeps) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "extractor", "testdata", name))
	require.NoError(t, err)
	return string(raw)
}

var stamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	session *Session
	backend *fakeBackend
	pauses  *sleeps
	details *sleeps
}

func newHarness(t *testing.T, mutate func(*config.ScraperConfig), c *cache.Cache) *harness {
	t.Helper()
	cfg := config.ScraperConfig{
		BaseURL:          testBase,
		MinContentLength: 1000,
		MaxImages:        5,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{backend: newFakeBackend(), pauses: &sleeps{}, details: &sleeps{}}
	pace := &pacing.Policy{
		MinDelay:    8 * time.Second,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 2,
		Backoff:     time.Second,
		Sleeper:     h.pauses.sleep,
	}
	detail := &pacing.Policy{MinDelay: 3 * time.Second, MaxDelay: 5 * time.Second, Sleeper: h.details.sleep}
	ext := extractor.New(extractor.Options{BaseURL: testBase, AffiliateTag: "shop-20", MaxImages: 5})
	h.session = New(h.backend, ext, pace, cfg, Options{
		Cache:      c,
		DetailPace: detail,
		Now:        func() time.Time { return stamp },
	})
	return h
}

func TestScrapeSearchResults(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.backend.on("usb hub", reply{html: fixture(t, "search.html")})

	recs, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	for _, r := range recs {
		assert.NotEmpty(t, r.Name)
		assert.NotEmpty(t, r.ItemID)
		assert.Equal(t, stamp, r.ScrapedAt)
		assert.Equal(t, testBase+"/dp/"+r.ItemID+"?tag=shop-20", r.ReferralLink)
	}
	assert.Equal(t, 1, h.pauses.count(), "a successful fetch is always followed by a pause")
}

func TestScrapeRespectsLimit(t *testing.T) {
	h := newHarness(t, func(c *config.ScraperConfig) { c.MaxResults = 1 }, nil)
	h.backend.on("usb hub", reply{html: fixture(t, "search.html")})

	recs, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "B0CHWRXH8B", recs[0].ItemID)
}

func TestScrapeRejectsEmptyTarget(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.session.ScrapeSearchResults(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeInvalidInput))
	assert.Zero(t, h.backend.callCount())
}

func TestScrapeBlockedContentFailsAfterRetries(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.backend.on("usb hub", reply{html: "<html>tiny</html>"})

	_, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeBlocked))
	assert.Equal(t, 2, h.backend.callCount())
	// Two paced fetches plus one backoff wait.
	assert.Equal(t, 3, h.pauses.count())
}

func TestScrapeRecoversAfterTransientBlock(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.backend.on("usb hub",
		reply{html: "<html>tiny</html>"},
		reply{html: fixture(t, "search.html")},
	)

	recs, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, 2, h.backend.callCount())
}

func TestScrapeMissingConfigurationFailsFast(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.backend.on("usb hub", reply{err: models.NewScrapeError(models.ErrCodeConfigMissing, "SCRAPER_API_KEY is not set", nil)})

	_, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeConfigMissing))
	assert.Equal(t, 1, h.backend.callCount())
	assert.Zero(t, h.pauses.count())
}

func TestScrapeUsesCache(t *testing.T) {
	c := cache.New(8, time.Minute)
	h := newHarness(t, nil, c)
	h.backend.on("usb hub", reply{html: fixture(t, "search.html")})

	first, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)
	second, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.backend.callCount())
	assert.Equal(t, 1, h.pauses.count())
}

func TestScrapeWritesDebugDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	h := newHarness(t, func(c *config.ScraperConfig) { c.DebugDumpPath = path }, nil)
	page := fixture(t, "search.html")
	h.backend.on("usb hub", reply{html: page})

	_, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, page, string(raw))
}

func TestScrapeEnrichesDetails(t *testing.T) {
	h := newHarness(t, func(c *config.ScraperConfig) { c.DetailLimit = 2 }, nil)
	h.backend.on("usb hub", reply{html: fixture(t, "search.html")})
	h.backend.on(testBase+"/Soundcore-Wireless-Earbuds/dp/B0CHWRXH8B/ref=sr_1_1", reply{html: fixture(t, "product.html")})
	h.backend.on(testBase+"/dp/B09JB2FDS2", reply{err: errors.New("connection reset")})

	recs, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Contains(t, recs[0].Description, "Powerful bass")
	assert.Equal(t, "https://m.media-amazon.com/images/I/61aaaaaaaaL._AC_SL1500_.jpg", recs[0].ImageURLs[0])
	assert.Equal(t, "$24.99", recs[0].Price.Display)

	assert.Empty(t, recs[1].Description)
	assert.Equal(t, "JBL Vibe Beam Earbuds", recs[1].Name)

	assert.Equal(t, 3, h.backend.callCount())
	assert.Equal(t, 1, h.details.count(), "pause after the fetched page only")
	for _, call := range h.backend.calls[1:] {
		assert.Equal(t, productReadySelectors, call.ReadySelectors)
	}
}

func TestLastDetailFetchIsPaced(t *testing.T) {
	h := newHarness(t, func(c *config.ScraperConfig) { c.DetailLimit = 1 }, nil)
	h.backend.on("usb hub", reply{html: fixture(t, "search.html")})
	h.backend.on(testBase+"/Soundcore-Wireless-Earbuds/dp/B0CHWRXH8B/ref=sr_1_1", reply{html: fixture(t, "product.html")})

	recs, err := h.session.ScrapeSearchResults(context.Background(), "usb hub")
	require.NoError(t, err)
	assert.Contains(t, recs[0].Description, "Powerful bass")
	assert.Equal(t, 2, h.backend.callCount())
	assert.Equal(t, 1, h.details.count())
}

func TestValidateContent(t *testing.T) {
	long := strings.Repeat("x", 9000)

	tests := []struct {
		name    string
		html    string
		blocked bool
	}{
		{"long clean page", "<html>" + long + "</html>", false},
		{"short page", "<html>results</html>", true},
		{"short page without markers", strings.Repeat("y", 7999), true},
		{"cloudflare challenge", "<div id=\"cf-challenge\"></div>" + long, true},
		{"javascript prompt", "<noscript>Enable JavaScript to continue</noscript>" + long, true},
		{"captcha form", "<form action=\"/errors/validateCaptcha\"></form>" + long, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.html, 8000)
			if !tt.blocked {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, models.IsCode(err, models.ErrCodeBlocked))
		})
	}
}
