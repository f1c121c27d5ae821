package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/shopscrape/models"
)

var (
	dpPattern     = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)
	ratingPattern = regexp.MustCompile(`(\d+\.?\d*)`)
	countPattern  = regexp.MustCompile(`\d[\d,]*`)
)

// --- identifier ---

var idStrategies = []Strategy[string]{
	func(b *Block) (string, bool) {
		v := b.Attr("data-asin")
		return v, v != ""
	},
	func(b *Block) (string, bool) {
		for _, href := range hrefs(b) {
			if m := dpPattern.FindStringSubmatch(href); m != nil {
				return m[1], true
			}
		}
		return "", false
	},
}

// ItemID resolves the site identifier from the block attribute or, failing
// that, from a detail-page link.
func ItemID(b *Block) (string, bool) {
	return FirstOf(b, idStrategies...)
}

var anyDetailLink = cascadia.MustCompile(`a[href*="/dp/"]`)

func hrefs(b *Block) []string {
	var out []string
	if h, ok := Link(b); ok {
		out = append(out, h)
	}
	b.Find(anyDetailLink).Each(func(_ int, s *goquery.Selection) {
		if h, ok := s.Attr("href"); ok {
			out = append(out, h)
		}
	})
	return out
}

// --- name ---

var nameStrategies = []Strategy[string]{
	textAt("#productTitle"),
	textAt("h2 a span"),
	textAt("h2 .a-text-normal"),
	textAt("h2"),
	textAt(".a-size-medium.a-text-normal"),
}

// Name returns the first non-blank product name.
func Name(b *Block) (string, bool) {
	return FirstOf(b, nameStrategies...)
}

// --- link ---

var linkStrategies = []Strategy[string]{
	attrAt("h2 a", "href"),
	attrAt("a.a-link-normal", "href"),
}

// Link returns the raw (possibly relative) product link of a tile.
func Link(b *Block) (string, bool) {
	return FirstOf(b, linkStrategies...)
}

// CanonicalLink resolves a tile link against baseURL, falling back to the
// detail path built from the identifier.
func CanonicalLink(baseURL, href, id string) string {
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "/"):
		return baseURL + href
	default:
		return baseURL + "/dp/" + id
	}
}

// --- price ---

var (
	priceOffscreen = cascadia.MustCompile(".a-price .a-offscreen")
	priceWhole     = cascadia.MustCompile(".a-price-whole")
	priceFraction  = cascadia.MustCompile(".a-price-fraction")
	priceSymbol    = cascadia.MustCompile(".a-price-symbol")
)

var priceStrategies = []Strategy[models.Price]{
	// Pre-composed display text.
	func(b *Block) (models.Price, bool) {
		t := b.Text(priceOffscreen)
		if t == "" {
			return models.Price{}, false
		}
		return models.Price{Display: t, Amount: parseAmount(t)}, true
	},
	// Separate parts. The display keeps the parts side by side with no
	// decimal point inserted: whole "29" and fraction "99" read "$2999".
	func(b *Block) (models.Price, bool) {
		whole := b.Text(priceWhole)
		if whole == "" {
			return models.Price{}, false
		}
		fraction := b.Text(priceFraction)
		symbol := b.Text(priceSymbol)
		if symbol == "" {
			symbol = "$"
		}
		display := symbol + whole + fraction

		amountText := strings.TrimRight(strings.ReplaceAll(whole, ",", ""), ".")
		if fraction != "" {
			amountText += "." + fraction
		}
		return models.Price{Display: display, Amount: parseAmount(amountText)}, true
	},
	// A lone currency symbol is all that is left on some sponsored tiles.
	func(b *Block) (models.Price, bool) {
		s := b.Text(priceSymbol)
		return models.Price{Display: s}, s != ""
	},
	textPrice("#corePrice_feature_div .a-offscreen"),
	textPrice("#priceblock_ourprice"),
}

func textPrice(selector string) Strategy[models.Price] {
	text := textAt(selector)
	return func(b *Block) (models.Price, bool) {
		t, ok := text(b)
		if !ok {
			return models.Price{}, false
		}
		return models.Price{Display: t, Amount: parseAmount(t)}, true
	}
}

// Price returns the displayed price or NotAvailable.
func Price(b *Block) models.Price {
	if p, ok := FirstOf(b, priceStrategies...); ok {
		return p
	}
	return models.Price{Display: models.NotAvailable}
}

func parseAmount(s string) *float64 {
	var sb strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			sb.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return nil
	}
	return &v
}

// --- rating ---

var ratingStrategies = []Strategy[string]{
	numberIn(textAt(".a-icon-star-small span, .a-icon-star span")),
	numberIn(textAt("i[class*='a-star'] .a-icon-alt")),
	numberIn(attrAt("span[aria-label*='out of 5']", "aria-label")),
	numberIn(textAt("#acrPopover .a-icon-alt")),
}

func numberIn(s Strategy[string]) Strategy[string] {
	return func(b *Block) (string, bool) {
		t, ok := s(b)
		if !ok {
			return "", false
		}
		m := ratingPattern.FindString(t)
		return m, m != ""
	}
}

// Rating returns the first decimal number of the star label or NotAvailable.
func Rating(b *Block) string {
	if r, ok := FirstOf(b, ratingStrategies...); ok {
		return r
	}
	return models.NotAvailable
}

// --- reviews ---

var starLabel = cascadia.MustCompile(`span[aria-label*="stars"]`)
var spanTag = cascadia.MustCompile("span")

var reviewStrategies = []Strategy[string]{
	// The count sits in the last span of the row holding the star indicator.
	countIn(func(b *Block) (string, bool) {
		star := b.Find(starLabel).First()
		if star.Length() == 0 {
			return "", false
		}
		t := collapse(star.Parent().Parent().FindMatcher(spanTag).Last().Text())
		return t, t != ""
	}),
	countIn(attrAt("span[aria-label$='ratings'], span[aria-label$='rating']", "aria-label")),
	countIn(textAt("a[href*='customerReviews'] span")),
	countIn(textAt("#acrCustomerReviewText")),
}

func countIn(s Strategy[string]) Strategy[string] {
	return func(b *Block) (string, bool) {
		t, ok := s(b)
		if !ok {
			return "", false
		}
		m := countPattern.FindString(t)
		if m == "" {
			return "", false
		}
		return strings.ReplaceAll(m, ",", ""), true
	}
}

// Reviews returns the review count as digits or DefaultReviews.
func Reviews(b *Block) string {
	if r, ok := FirstOf(b, reviewStrategies...); ok {
		return r
	}
	return models.DefaultReviews
}

// --- availability ---

var availabilityStrategies = []Strategy[string]{
	textAt("#availability span"),
	textAt("#availability"),
}

// Availability reads the stock line of a product page. Search tiles carry
// none and default to DefaultAvailability.
func Availability(b *Block) string {
	if a, ok := FirstOf(b, availabilityStrategies...); ok {
		return a
	}
	return models.DefaultAvailability
}
