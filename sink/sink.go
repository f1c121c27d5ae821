// Package sink persists extracted products and supplies the input URLs of
// sheet-driven runs.
package sink

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/models"
)

// Write modes.
const (
	ModeOverwrite = "overwrite"
	ModeAppend    = "append"
)

// Header is the column layout shared by every tabular sink.
var Header = []string{
	"Product Name",
	"Description",
	"Images",
	"Price",
	"Rating",
	"Reviews",
	"ASIN",
	"Affiliate Link",
	"Product Link",
	"Availability",
	"Scraped At",
}

// Sink consumes the records of a run under a target name (sheet tab or
// file stem). An empty target means the sink's default.
type Sink interface {
	Name() string
	Write(ctx context.Context, target string, records []models.ProductRecord) error
}

// Source lists the search URLs a run should scrape.
type Source interface {
	URLs(ctx context.Context) ([]string, error)
}

// Row renders a record in Header order.
func Row(rec models.ProductRecord) []string {
	return []string{
		rec.Name,
		rec.Description,
		strings.Join(rec.ImageURLs, ", "),
		rec.Price.Display,
		rec.Rating,
		rec.Reviews,
		rec.ItemID,
		rec.ReferralLink,
		rec.CanonicalLink,
		rec.Availability,
		rec.ScrapedAt.UTC().Format(time.RFC3339),
	}
}

// FilterURLs keeps the cells that look like storefront links: strings that
// start with "http" and mention the storefront's domain.
func FilterURLs(cells []string, baseURL string) []string {
	domain := siteDomain(baseURL)
	var out []string
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if !strings.HasPrefix(c, "http") {
			continue
		}
		if domain != "" && !strings.Contains(c, domain) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func siteDomain(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Nop discards everything.
type Nop struct{}

func (Nop) Name() string { return config.SinkNone }

func (Nop) Write(context.Context, string, []models.ProductRecord) error { return nil }

// New builds the configured sink. The Source is nil unless the sink is a
// spreadsheet, which doubles as the input list of sheet-driven runs.
func New(ctx context.Context, cfg config.SinkConfig, baseURL string) (Sink, Source, error) {
	switch cfg.Kind {
	case config.SinkCSV:
		return NewCSV(cfg.CSVDir, cfg.WriteMode), nil, nil
	case config.SinkSheets:
		s, err := NewSheets(ctx, cfg, baseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.SinkNone, "":
		return Nop{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("sink: unknown kind %q", cfg.Kind)
	}
}
