package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/use-agent/shopscrape/models"
	"golang.org/x/net/html"
)

// Backend obtains the raw markup of a results page. Implementations are
// selected by configuration and share the scrape session contract.
type Backend interface {
	// Name returns the backend identifier ("relay" or "browser").
	Name() string

	// Acquire fetches the page for req.Target, which is either a fully
	// qualified URL or a plain search term.
	Acquire(ctx context.Context, req *FetchRequest) (*FetchResult, error)

	// Close releases connections or browser processes.
	Close() error
}

// Default content indicators of a results page, primary first.
var DefaultReadySelectors = []string{
	`[data-component-type="s-search-result"]`,
	`.s-result-item[data-asin]`,
}

// FetchRequest describes one acquisition.
type FetchRequest struct {
	// Target is a results or product URL, or a plain search term.
	Target string

	// ReadySelectors are the content indicators the browser waits for.
	// Empty means DefaultReadySelectors; product pages pass their own.
	ReadySelectors []string
}

// FetchResult is the output of a successful acquisition.
type FetchResult struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
	EngineName string
}

// categorizeError maps a transport error to a coded error.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
