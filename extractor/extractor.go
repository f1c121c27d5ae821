// Package extractor turns search-result and product-page markup into
// ProductRecords. Every field is read through an ordered chain of
// strategies; a strategy whose content is missing simply yields to the
// next one. Nothing here touches the network or the clock.
package extractor

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/shopscrape/models"
)

// blockSelectors enumerate result tiles, most specific first. The first
// selector matching anything wins.
var blockSelectors = []cascadia.Selector{
	cascadia.MustCompile(`[data-component-type="s-search-result"]`),
	cascadia.MustCompile(`.s-result-item[data-asin]`),
	cascadia.MustCompile(`div[data-asin]:not([data-asin=""])`),
}

// Options configures record assembly.
type Options struct {
	// BaseURL is the storefront root used for relative and referral links.
	BaseURL string

	// AffiliateTag is appended to referral links; empty disables them.
	AffiliateTag string

	// MaxImages caps the image list per record; 0 means no cap.
	MaxImages int
}

// Extractor assembles ProductRecords from parsed pages.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Extractor{opts: opts}
}

// WithAffiliateTag returns a copy using a different tag.
func (e *Extractor) WithAffiliateTag(tag string) *Extractor {
	opts := e.opts
	opts.AffiliateTag = tag
	return &Extractor{opts: opts}
}

// ReferralLink builds the tagged product link. It returns "" when either
// the identifier or the tag is empty.
func ReferralLink(baseURL, id, tag string) string {
	if id == "" || tag == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/dp/" + id + "?tag=" + url.QueryEscape(tag)
}

// Blocks enumerates the result tiles of a search page.
func Blocks(doc *goquery.Document) []*Block {
	for _, m := range blockSelectors {
		sel := doc.FindMatcher(m)
		if sel.Length() == 0 {
			continue
		}
		blocks := make([]*Block, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			blocks = append(blocks, NewBlock(s))
		})
		return blocks
	}
	return nil
}

// Tile extracts one record from a result tile. It reports false when the
// tile has no identifier or no name; such tiles produce nothing.
func (e *Extractor) Tile(b *Block, scrapedAt time.Time) (models.ProductRecord, bool) {
	id, ok := ItemID(b)
	if !ok {
		return models.ProductRecord{}, false
	}
	name, ok := Name(b)
	if !ok {
		return models.ProductRecord{}, false
	}
	href, _ := Link(b)

	return models.ProductRecord{
		Name:          name,
		ImageURLs:     Images(b, e.opts.MaxImages),
		Price:         Price(b),
		Rating:        Rating(b),
		Reviews:       Reviews(b),
		ItemID:        id,
		ReferralLink:  ReferralLink(e.opts.BaseURL, id, e.opts.AffiliateTag),
		CanonicalLink: CanonicalLink(e.opts.BaseURL, href, id),
		Availability:  models.DefaultAvailability,
		ScrapedAt:     scrapedAt,
	}, true
}

// SearchResults extracts records from every tile in document order,
// skipping tiles without an identifier or name and repeated identifiers.
// It stops after limit records when limit > 0.
func (e *Extractor) SearchResults(doc *goquery.Document, scrapedAt time.Time, limit int) []models.ProductRecord {
	seen := make(map[string]struct{})
	records := make([]models.ProductRecord, 0)
	for _, b := range Blocks(doc) {
		rec, ok := e.Tile(b, scrapedAt)
		if !ok {
			continue
		}
		if _, dup := seen[rec.ItemID]; dup {
			continue
		}
		seen[rec.ItemID] = struct{}{}
		records = append(records, rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records
}

// Retag recomputes referral links with this extractor's tag.
func (e *Extractor) Retag(records []models.ProductRecord) {
	for i := range records {
		records[i].ReferralLink = ReferralLink(e.opts.BaseURL, records[i].ItemID, e.opts.AffiliateTag)
	}
}
