package extractor

import (
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// placeholderMarkers identify lazy-load stand-ins and layout sprites.
var placeholderMarkers = []string{
	"grey-pixel",
	"transparent-pixel",
	"sprite",
	"loading-",
	"/x-locale/common/",
}

func isPlaceholder(src string) bool {
	if src == "" || strings.HasPrefix(src, "data:") {
		return true
	}
	lower := strings.ToLower(src)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func imagesAt(selector string, attrs ...string) Strategy[[]string] {
	m := cascadia.MustCompile(selector)
	return func(b *Block) ([]string, bool) {
		var out []string
		b.Find(m).Each(func(_ int, s *goquery.Selection) {
			for _, a := range attrs {
				if v, ok := s.Attr(a); ok && !isPlaceholder(strings.TrimSpace(v)) {
					out = appendUnique(out, strings.TrimSpace(v))
					return
				}
			}
		})
		return out, len(out) > 0
	}
}

var imageStrategies = []Strategy[[]string]{
	imagesAt("img.s-image", "src", "data-src"),
	imagesAt("#altImages img", "src"),
	imagesAt("img", "src", "data-src"),
}

var landingImage = cascadia.MustCompile("#landingImage")

// Images collects image URLs from the first strategy that yields any,
// prepends the landing image when present and caps the list at limit
// (limit <= 0 means no cap).
func Images(b *Block, limit int) []string {
	images, _ := FirstOf(b, imageStrategies...)

	if b.Has(landingImage) {
		landing := b.AttrOf(landingImage, "data-old-hires")
		if landing == "" {
			landing = b.AttrOf(landingImage, "src")
		}
		if !isPlaceholder(landing) && !slices.Contains(images, landing) {
			images = append([]string{landing}, images...)
		}
	}

	if limit > 0 && len(images) > limit {
		images = images[:limit]
	}
	if images == nil {
		images = []string{}
	}
	return images
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
