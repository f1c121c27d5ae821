package jobs

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/shopscrape/extractor"
	"github.com/use-agent/shopscrape/models"
	"github.com/use-agent/shopscrape/pacing"
	"github.com/use-agent/shopscrape/webhook"
)

const testBase = "https://www.amazon.com"

// fakeScraper returns scripted results per URL. When gate is set every
// call blocks until it is closed.
type fakeScraper struct {
	mu      sync.Mutex
	results map[string][]models.ProductRecord
	errs    map[string]error
	panics  map[string]bool
	calls   []string
	gate    chan struct{}
	entered chan string
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{
		results: make(map[string][]models.ProductRecord),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
		entered: make(chan string, 16),
	}
}

func (f *fakeScraper) ScrapeSearchResults(ctx context.Context, target string) ([]models.ProductRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	gate := f.gate
	f.mu.Unlock()

	f.entered <- target
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics[target] {
		panic("extractor exploded")
	}
	if err := f.errs[target]; err != nil {
		return nil, err
	}
	return append([]models.ProductRecord(nil), f.results[target]...), nil
}

func record(id string) models.ProductRecord {
	return models.ProductRecord{
		Name:          "Product " + id,
		ItemID:        id,
		ReferralLink:  testBase + "/dp/" + id + "?tag=default-20",
		CanonicalLink: testBase + "/dp/" + id,
	}
}

type memSink struct {
	mu      sync.Mutex
	writes  map[string][]models.ProductRecord
	failErr error
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Write(_ context.Context, target string, recs []models.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if m.writes == nil {
		m.writes = make(map[string][]models.ProductRecord)
	}
	m.writes[target] = append(m.writes[target], recs...)
	return nil
}

type staticSource struct {
	urls []string
	err  error
}

func (s staticSource) URLs(context.Context) ([]string, error) { return s.urls, s.err }

type pauses struct {
	mu sync.Mutex
	n  int
}

func (p *pauses) sleep(context.Context, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

func (p *pauses) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func newTestOrchestrator(s Scraper, mutate func(*Options)) (*Orchestrator, *pauses) {
	p := &pauses{}
	opts := Options{
		Scraper:   s,
		Extractor: extractor.New(extractor.Options{BaseURL: testBase, AffiliateTag: "default-20"}),
		Pace:      &pacing.Policy{MinDelay: 5 * time.Second, MaxDelay: 8 * time.Second, Sleeper: p.sleep},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), p
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	fs := newFakeScraper()
	fs.results["u1"] = []models.ProductRecord{record("B000000001"), record("B000000002")}
	fs.results["u2"] = []models.ProductRecord{record("B000000003")}
	sink := &memSink{}

	o, p := newTestOrchestrator(fs, func(opts *Options) { opts.Sink = sink })
	id, err := o.Submit(models.RunRequest{URLs: []string{"u1", "u2"}, Target: "Products"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	o.Wait()

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, "2/2", job.Progress)
	assert.Equal(t, 3, job.ProductCount)
	require.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Error)
	assert.False(t, o.Running())

	assert.Equal(t, 1, p.count(), "pause between urls, not after the last")
	assert.Len(t, sink.writes["Products"], 3)

	products, err := o.Products(id)
	require.NoError(t, err)
	assert.Len(t, products, 3)
}

func TestSubmitWhileRunningIsBusy(t *testing.T) {
	fs := newFakeScraper()
	fs.gate = make(chan struct{})
	fs.results["u1"] = []models.ProductRecord{record("B000000001")}

	o, _ := newTestOrchestrator(fs, nil)
	first, err := o.Submit(models.RunRequest{URLs: []string{"u1"}})
	require.NoError(t, err)
	<-fs.entered

	_, err = o.Submit(models.RunRequest{URLs: []string{"u2"}})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeBusy))
	assert.Len(t, o.List(), 1, "a rejected submit must not create a job")
	assert.True(t, o.Running())

	job, err := o.Get(first)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, job.Status)

	_, err = o.Products(first)
	assert.True(t, models.IsCode(err, models.ErrCodeJobRunning))

	close(fs.gate)
	o.Wait()

	second, err := o.Submit(models.RunRequest{URLs: []string{"u1"}})
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
	o.Wait()
}

func TestConcurrentSubmitsStartOneJob(t *testing.T) {
	fs := newFakeScraper()
	fs.gate = make(chan struct{})

	o, _ := newTestOrchestrator(fs, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		busy     int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Submit(models.RunRequest{URLs: []string{"u"}})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if models.IsCode(err, models.ErrCodeBusy) {
				busy++
			}
		}()
	}
	wg.Wait()
	close(fs.gate)
	o.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 19, busy)
	assert.Len(t, o.List(), 1)
}

func TestPerURLFailuresAreRecorded(t *testing.T) {
	fs := newFakeScraper()
	fs.errs["bad"] = models.NewScrapeError(models.ErrCodeBlocked, "content too short", nil)
	fs.results["good"] = []models.ProductRecord{record("B000000001")}

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"bad", "good"}})
	require.NoError(t, err)
	o.Wait()

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 1, job.ProductCount)
	require.Len(t, job.Failures, 1)
	assert.Equal(t, "bad", job.Failures[0].URL)
	assert.Equal(t, models.ErrCodeBlocked, job.Failures[0].Code)
	assert.Equal(t, []string{"bad", "good"}, fs.calls)
}

func TestAllURLsFailingFailsJob(t *testing.T) {
	fs := newFakeScraper()
	fs.errs["a"] = models.NewScrapeError(models.ErrCodeBlocked, "blocked", nil)
	fs.errs["b"] = models.NewScrapeError(models.ErrCodeNavigation, "reset", nil)

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"a", "b"}})
	require.NoError(t, err)
	o.Wait()

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "all 2 urls failed")
	assert.Len(t, job.Failures, 2)

	_, err = o.Products(id)
	assert.True(t, models.IsCode(err, models.ErrCodeJobRunning))
}

func TestMissingConfigurationAbortsJob(t *testing.T) {
	fs := newFakeScraper()
	fs.errs["a"] = models.NewScrapeError(models.ErrCodeConfigMissing, "SCRAPER_API_KEY is not set", nil)

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"a", "b"}})
	require.NoError(t, err)
	o.Wait()

	job, _ := o.Get(id)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "SCRAPER_API_KEY")
	assert.Equal(t, []string{"a"}, fs.calls)
}

func TestPanicReleasesGate(t *testing.T) {
	fs := newFakeScraper()
	fs.panics["boom"] = true

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"boom"}})
	require.NoError(t, err)
	o.Wait()

	job, _ := o.Get(id)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "panicked")
	assert.False(t, o.Running())

	_, err = o.Submit(models.RunRequest{URLs: []string{"boom"}})
	require.NoError(t, err)
	o.Wait()
}

func TestAffiliateTagOverride(t *testing.T) {
	fs := newFakeScraper()
	fs.results["u"] = []models.ProductRecord{record("B000000001")}

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"u"}, AffiliateTag: "override-21"})
	require.NoError(t, err)
	o.Wait()

	products, err := o.Products(id)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, testBase+"/dp/B000000001?tag=override-21", products[0].ReferralLink)
}

func TestSourceDrivenRun(t *testing.T) {
	fs := newFakeScraper()
	fs.results["https://www.amazon.com/s?k=hub"] = []models.ProductRecord{record("B000000001")}

	o, _ := newTestOrchestrator(fs, func(opts *Options) {
		opts.Source = staticSource{urls: []string{"https://www.amazon.com/s?k=hub"}}
	})
	id, err := o.Submit(models.RunRequest{})
	require.NoError(t, err)
	o.Wait()

	job, _ := o.Get(id)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, []string{"https://www.amazon.com/s?k=hub"}, job.URLs)
	assert.Equal(t, 1, job.ProductCount)
}

func TestSourceFailureFailsJob(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeScraper(), func(opts *Options) {
		opts.Source = staticSource{err: errors.New("permission denied")}
	})
	id, err := o.Submit(models.RunRequest{})
	require.NoError(t, err)
	o.Wait()

	job, _ := o.Get(id)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "permission denied")
}

func TestSubmitWithoutURLsOrSource(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeScraper(), nil)
	_, err := o.Submit(models.RunRequest{})
	assert.True(t, models.IsCode(err, models.ErrCodeInvalidInput))
	assert.Empty(t, o.List())
}

func TestSinkFailureFailsJob(t *testing.T) {
	fs := newFakeScraper()
	fs.results["u"] = []models.ProductRecord{record("B000000001")}
	sink := &memSink{failErr: models.NewScrapeError(models.ErrCodeSinkFailed, "write products", nil)}

	o, _ := newTestOrchestrator(fs, func(opts *Options) { opts.Sink = sink })
	id, err := o.Submit(models.RunRequest{URLs: []string{"u"}})
	require.NoError(t, err)
	o.Wait()

	job, _ := o.Get(id)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, models.ErrCodeSinkFailed)
}

func TestGetUnknownJob(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeScraper(), nil)
	_, err := o.Get(99)
	assert.True(t, models.IsCode(err, models.ErrCodeJobNotFound))
	_, err = o.Products(99)
	assert.True(t, models.IsCode(err, models.ErrCodeJobNotFound))
}

func TestRetentionPrunesOldJobs(t *testing.T) {
	fs := newFakeScraper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	o, _ := newTestOrchestrator(fs, func(opts *Options) {
		opts.Retention = time.Hour
		opts.Now = clock
	})
	first, err := o.Submit(models.RunRequest{URLs: []string{"u"}})
	require.NoError(t, err)
	o.Wait()

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	second, err := o.Submit(models.RunRequest{URLs: []string{"u"}})
	require.NoError(t, err)
	o.Wait()

	_, err = o.Get(first)
	assert.True(t, models.IsCode(err, models.ErrCodeJobNotFound))
	_, err = o.Get(second)
	assert.NoError(t, err)
}

func TestCloseCancelsRunningJob(t *testing.T) {
	fs := newFakeScraper()
	fs.gate = make(chan struct{})

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"u1", "u2"}})
	require.NoError(t, err)
	<-fs.entered

	o.Close()

	job, _ := o.Get(id)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, []string{"u1"}, fs.calls)
}

func TestWaitContextStopsJobOnCancel(t *testing.T) {
	fs := newFakeScraper()
	fs.gate = make(chan struct{})

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"u1", "u2"}})
	require.NoError(t, err)
	<-fs.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, o.WaitContext(ctx), context.Canceled)

	job, _ := o.Get(id)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.False(t, o.Running())
	assert.Equal(t, []string{"u1"}, fs.calls)
}

func TestWaitContextReturnsWhenJobFinishes(t *testing.T) {
	fs := newFakeScraper()
	fs.results["u1"] = []models.ProductRecord{record("B000000001")}

	o, _ := newTestOrchestrator(fs, nil)
	id, err := o.Submit(models.RunRequest{URLs: []string{"u1"}})
	require.NoError(t, err)
	require.NoError(t, o.WaitContext(context.Background()))

	job, _ := o.Get(id)
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestWebhookOnCompletion(t *testing.T) {
	fs := newFakeScraper()
	fs.results["u"] = []models.ProductRecord{record("B000000001")}

	n := webhook.New("https://hooks.test/jobs", "")
	n.Delays = []time.Duration{0}
	transport := httpmock.NewMockTransport()
	n.Client().SetTransport(transport)
	delivered := make(chan struct{}, 1)
	transport.RegisterResponder(http.MethodPost, "https://hooks.test/jobs", func(req *http.Request) (*http.Response, error) {
		delivered <- struct{}{}
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	o, _ := newTestOrchestrator(fs, func(opts *Options) { opts.Notifier = n })
	_, err := o.Submit(models.RunRequest{URLs: []string{"u"}})
	require.NoError(t, err)
	o.Wait()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
}
