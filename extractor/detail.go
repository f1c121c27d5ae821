package extractor

import (
	"fmt"
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"github.com/use-agent/shopscrape/models"
)

// maxDescription bounds descriptions taken from the readability fallback.
const maxDescription = 2000

// minArticleText is the shortest readability text accepted as a description.
const minArticleText = 50

var descriptionSelectors = []cascadia.Selector{
	cascadia.MustCompile("#feature-bullets ul"),
	cascadia.MustCompile("#productDescription"),
	cascadia.MustCompile("#bookDescription_feature_div"),
}

// Detail holds the fields a product page adds to a search record.
type Detail struct {
	Name         string
	Description  string
	ImageURLs    []string
	Price        models.Price
	Rating       string
	Reviews      string
	Availability string
}

// ProductPage extracts a Detail from a product page.
func (e *Extractor) ProductPage(rawHTML, pageURL string) (*Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extractor: parse product page: %w", err)
	}
	b := NewBlock(doc.Selection)

	name, _ := Name(b)
	return &Detail{
		Name:         name,
		Description:  e.description(b, rawHTML, pageURL),
		ImageURLs:    Images(b, e.opts.MaxImages),
		Price:        Price(b),
		Rating:       Rating(b),
		Reviews:      Reviews(b),
		Availability: Availability(b),
	}, nil
}

func (e *Extractor) description(b *Block, rawHTML, pageURL string) string {
	for _, m := range descriptionSelectors {
		sel := b.Find(m).First()
		if sel.Length() == 0 {
			continue
		}
		fragment, err := goquery.OuterHtml(sel)
		if err != nil {
			continue
		}
		if md := toMarkdown(fragment, e.opts.BaseURL); md != "" {
			return md
		}
	}
	return articleText(rawHTML, pageURL)
}

// mdConverter is safe for concurrent use.
var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

func toMarkdown(fragment, domain string) string {
	md, err := mdConverter.ConvertString(fragment, converter.WithDomain(domain))
	if err != nil {
		slog.Debug("description markdown conversion failed", "error", err)
		return ""
	}
	return strings.TrimSpace(md)
}

// articleText runs readability over the whole page when none of the known
// description containers exist.
func articleText(rawHTML, pageURL string) string {
	parsed, err := nurl.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		slog.Debug("readability failed on product page", "url", pageURL, "error", err)
		return ""
	}
	text := collapse(article.TextContent)
	if len(text) < minArticleText {
		return ""
	}
	if len(text) > maxDescription {
		text = text[:maxDescription]
	}
	return text
}

// Enrich merges a product page Detail into a search record. Fields the
// page did not provide keep their search values.
func Enrich(rec *models.ProductRecord, d *Detail, maxImages int) {
	if d.Description != "" {
		rec.Description = d.Description
	}
	if d.Name != "" && rec.Name == "" {
		rec.Name = d.Name
	}
	if len(d.ImageURLs) > 0 {
		merged := append([]string(nil), d.ImageURLs...)
		for _, img := range rec.ImageURLs {
			merged = appendUnique(merged, img)
		}
		if maxImages > 0 && len(merged) > maxImages {
			merged = merged[:maxImages]
		}
		rec.ImageURLs = merged
	}
	if d.Price.Display != "" && d.Price.Display != models.NotAvailable {
		rec.Price = d.Price
	}
	if _, ok := rec.RatingValue(); !ok {
		if _, ok := models.ParseRating(d.Rating); ok {
			rec.Rating = d.Rating
		}
	}
	if _, ok := rec.ReviewCount(); !ok {
		if _, ok := models.ParseReviewCount(d.Reviews); ok {
			rec.Reviews = d.Reviews
		}
	}
	if d.Availability != "" {
		rec.Availability = d.Availability
	}
}
