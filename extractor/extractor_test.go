package extractor

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/shopscrape/models"
)

const testBase = "https://www.amazon.com"

func loadDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func blockFrom(t *testing.T, markup string) *Block {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return NewBlock(doc.Find("body > div").First())
}

func TestSearchResultsFixture(t *testing.T) {
	doc := loadDoc(t, "search.html")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ex := New(Options{BaseURL: testBase, AffiliateTag: "shop-20", MaxImages: 5})

	records := ex.SearchResults(doc, at, 0)
	require.Len(t, records, 3)

	for _, r := range records {
		assert.NotEmpty(t, r.Name)
		assert.NotEmpty(t, r.ItemID)
		assert.Equal(t, at, r.ScrapedAt)
		assert.Equal(t, testBase+"/dp/"+r.ItemID+"?tag=shop-20", r.ReferralLink)
		assert.Equal(t, models.DefaultAvailability, r.Availability)
	}

	first := records[0]
	assert.Equal(t, "B0CHWRXH8B", first.ItemID)
	assert.Equal(t, "Soundcore P20i True Wireless Earbuds", first.Name)
	assert.Equal(t, "$29.99", first.Price.Display)
	require.NotNil(t, first.Price.Amount)
	assert.InDelta(t, 29.99, *first.Price.Amount, 0.001)
	assert.Equal(t, "4.5", first.Rating)
	assert.Equal(t, "1234", first.Reviews)
	assert.Equal(t, []string{"https://m.media-amazon.com/images/I/61aaaaaaaaL._AC_UY218_.jpg"}, first.ImageURLs)
	assert.Equal(t, testBase+"/Soundcore-Wireless-Earbuds/dp/B0CHWRXH8B/ref=sr_1_1", first.CanonicalLink)

	second := records[1]
	assert.Equal(t, "B09JB2FDS2", second.ItemID)
	assert.Equal(t, "JBL Vibe Beam Earbuds", second.Name)
	assert.Equal(t, "$2999", second.Price.Display)
	require.NotNil(t, second.Price.Amount)
	assert.InDelta(t, 29.99, *second.Price.Amount, 0.001)
	assert.Equal(t, "3.9", second.Rating)
	assert.Equal(t, "87", second.Reviews)
	assert.Equal(t, []string{"https://m.media-amazon.com/images/I/71bbbbbbbbL._AC_UY218_.jpg"}, second.ImageURLs)
	assert.Equal(t, testBase+"/dp/B09JB2FDS2", second.CanonicalLink)

	third := records[2]
	assert.Equal(t, "B09FKGJ1CB", third.ItemID)
	assert.Equal(t, models.NotAvailable, third.Price.Display)
	assert.Nil(t, third.Price.Amount)
	assert.Equal(t, models.NotAvailable, third.Rating)
	assert.Equal(t, models.DefaultReviews, third.Reviews)
	assert.Empty(t, third.ImageURLs)
	assert.NotNil(t, third.ImageURLs)
}

func TestSearchResultsIsIdempotent(t *testing.T) {
	doc := loadDoc(t, "search.html")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ex := New(Options{BaseURL: testBase, AffiliateTag: "shop-20"})

	require.Equal(t, ex.SearchResults(doc, at, 0), ex.SearchResults(doc, at, 0))
}

func TestSearchResultsLimit(t *testing.T) {
	doc := loadDoc(t, "search.html")
	ex := New(Options{BaseURL: testBase})

	records := ex.SearchResults(doc, time.Now(), 2)
	require.Len(t, records, 2)
	assert.Equal(t, "B09JB2FDS2", records[1].ItemID)
}

func TestSearchResultsDropsDuplicateIDs(t *testing.T) {
	markup := `<html><body>
<div data-component-type="s-search-result" data-asin="B000000001"><h2><a href="/dp/B000000001"><span>One</span></a></h2></div>
<div data-component-type="s-search-result" data-asin="B000000001"><h2><a href="/dp/B000000001"><span>One again</span></a></h2></div>
<div data-component-type="s-search-result" data-asin="B000000002"><h2><a href="/dp/B000000002"><span>Two</span></a></h2></div>
</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)

	records := New(Options{BaseURL: testBase}).SearchResults(doc, time.Now(), 0)
	require.Len(t, records, 2)
	assert.Equal(t, "One", records[0].Name)
	assert.Empty(t, records[0].ReferralLink)
}

func TestBlocksFallbackSelectors(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   int
	}{
		{
			name:   "result item class",
			markup: `<div class="s-result-item" data-asin="B000000001"></div><div class="s-result-item" data-asin="B000000002"></div>`,
			want:   2,
		},
		{
			name:   "bare data attribute skips empty",
			markup: `<div data-asin="B000000001"></div><div data-asin=""></div>`,
			want:   1,
		},
		{
			name:   "nothing",
			markup: `<p>no results</p>`,
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>" + tt.markup + "</body></html>"))
			require.NoError(t, err)
			assert.Len(t, Blocks(doc), tt.want)
		})
	}
}

func TestTileWithoutIdentifierYieldsNothing(t *testing.T) {
	b := blockFrom(t, `<html><body><div><h2><a href="/gp/help"><span>Name only</span></a></h2></div></body></html>`)
	rec, ok := New(Options{BaseURL: testBase, AffiliateTag: "x"}).Tile(b, time.Now())
	assert.False(t, ok)
	assert.Equal(t, models.ProductRecord{}, rec)
}

func TestNameTreatsBlankAsFailure(t *testing.T) {
	b := blockFrom(t, `<html><body><div data-asin="B000000001"><h2><a><span>   </span></a></h2><span class="a-size-medium a-text-normal">Fallback name</span></div></body></html>`)
	name, ok := Name(b)
	require.True(t, ok)
	assert.Equal(t, "Fallback name", name)
}

func TestPriceStrategies(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
		amount float64
	}{
		{"offscreen wins over parts", `<span class="a-price"><span class="a-offscreen">$29.99</span><span class="a-price-whole">29</span><span class="a-price-fraction">99</span></span>`, "$29.99", 29.99},
		{"parts concatenated literally", `<span class="a-price-whole">29</span><span class="a-price-fraction">99</span>`, "$2999", 29.99},
		{"parts with symbol and separator", `<span class="a-price-symbol">£</span><span class="a-price-whole">1,299.</span><span class="a-price-fraction">00</span>`, "£1,299.00", 1299},
		{"whole only", `<span class="a-price-whole">15</span>`, "$15", 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Price(blockFrom(t, "<html><body><div>"+tt.markup+"</div></body></html>"))
			assert.Equal(t, tt.want, p.Display)
			require.NotNil(t, p.Amount)
			assert.InDelta(t, tt.amount, *p.Amount, 0.001)
		})
	}

	t.Run("symbol only", func(t *testing.T) {
		p := Price(blockFrom(t, `<html><body><div><span class="a-price-symbol">$</span></div></body></html>`))
		assert.Equal(t, "$", p.Display)
		assert.Nil(t, p.Amount)
	})

	t.Run("nothing", func(t *testing.T) {
		p := Price(blockFrom(t, `<html><body><div></div></body></html>`))
		assert.Equal(t, models.NotAvailable, p.Display)
	})
}

func TestRatingAndReviewsFromLabels(t *testing.T) {
	b := blockFrom(t, `<html><body><div>
<span aria-label="4.2 out of 5 stars"></span>
<span aria-label="12,001 ratings"></span>
</div></body></html>`)

	assert.Equal(t, "4.2", Rating(b))
	assert.Equal(t, "12001", Reviews(b))
}

func TestImagesFilterAndCap(t *testing.T) {
	b := blockFrom(t, `<html><body><div>
<img class="s-image" src="https://img.example/a.jpg">
<img class="s-image" src="https://img.example/sprite-nav.png">
<img class="s-image" src="https://img.example/b.jpg">
<img class="s-image" src="https://img.example/a.jpg">
<img class="s-image" src="https://img.example/c.jpg">
</div></body></html>`)

	assert.Equal(t, []string{"https://img.example/a.jpg", "https://img.example/b.jpg"}, Images(b, 2))
	assert.Len(t, Images(b, 0), 3)
}

func TestReferralLink(t *testing.T) {
	ids := []string{"B0CHWRXH8B", "B000000001", "anything"}
	for _, id := range ids {
		assert.Empty(t, ReferralLink(testBase, id, ""))
	}
	assert.Empty(t, ReferralLink(testBase, "", "shop-20"))
	assert.Equal(t, "https://www.amazon.com/dp/B0CHWRXH8B?tag=shop-20", ReferralLink(testBase+"/", "B0CHWRXH8B", "shop-20"))
}

func TestCanonicalLink(t *testing.T) {
	assert.Equal(t, "https://x.test/p", CanonicalLink(testBase, "https://x.test/p", "B000000001"))
	assert.Equal(t, testBase+"/foo/dp/B000000001", CanonicalLink(testBase, "/foo/dp/B000000001", "B000000001"))
	assert.Equal(t, testBase+"/dp/B000000001", CanonicalLink(testBase, "", "B000000001"))
}

func TestRetag(t *testing.T) {
	records := []models.ProductRecord{{ItemID: "B000000001"}, {ItemID: "B000000002"}}
	ex := New(Options{BaseURL: testBase, AffiliateTag: "base-20"})

	ex.WithAffiliateTag("override-21").Retag(records)

	assert.Equal(t, testBase+"/dp/B000000001?tag=override-21", records[0].ReferralLink)
	assert.Equal(t, testBase+"/dp/B000000002?tag=override-21", records[1].ReferralLink)
}

func TestProductPage(t *testing.T) {
	raw, err := os.ReadFile("testdata/product.html")
	require.NoError(t, err)
	ex := New(Options{BaseURL: testBase, MaxImages: 5})

	d, err := ex.ProductPage(string(raw), testBase+"/dp/B0CHWRXH8B")
	require.NoError(t, err)

	assert.Equal(t, "Soundcore by Anker P20i True Wireless Earbuds", d.Name)
	assert.Equal(t, "$24.99", d.Price.Display)
	assert.Equal(t, "4.5", d.Rating)
	assert.Equal(t, "2345", d.Reviews)
	assert.Equal(t, "In Stock", d.Availability)
	assert.Contains(t, d.Description, "Powerful bass with 10mm drivers.")
	assert.Contains(t, d.Description, "30 hours of playtime")
	assert.Equal(t, []string{
		"https://m.media-amazon.com/images/I/61aaaaaaaaL._AC_SL1500_.jpg",
		"https://m.media-amazon.com/images/I/41dddddddL._AC_US40_.jpg",
		"https://m.media-amazon.com/images/I/41eeeeeeeL._AC_US40_.jpg",
	}, d.ImageURLs)
}

func TestEnrich(t *testing.T) {
	rec := models.ProductRecord{
		Name:         "Search name",
		ImageURLs:    []string{"https://img.example/tile.jpg"},
		Price:        models.Price{Display: models.NotAvailable},
		Rating:       "4.1",
		Reviews:      models.DefaultReviews,
		Availability: models.DefaultAvailability,
	}
	d := &Detail{
		Name:         "Page name",
		Description:  "Bullet one",
		ImageURLs:    []string{"https://img.example/landing.jpg"},
		Price:        models.Price{Display: "$10.00"},
		Rating:       "4.6",
		Reviews:      "55",
		Availability: "Only 3 left in stock.",
	}

	Enrich(&rec, d, 5)

	assert.Equal(t, "Search name", rec.Name)
	assert.Equal(t, "Bullet one", rec.Description)
	assert.Equal(t, []string{"https://img.example/landing.jpg", "https://img.example/tile.jpg"}, rec.ImageURLs)
	assert.Equal(t, "$10.00", rec.Price.Display)
	assert.Equal(t, "4.1", rec.Rating)
	assert.Equal(t, "55", rec.Reviews)
	assert.Equal(t, "Only 3 left in stock.", rec.Availability)
}

func TestEnrichKeepsFoundRatingAndReviews(t *testing.T) {
	rec := models.ProductRecord{Rating: models.NotAvailable, Reviews: "12"}
	Enrich(&rec, &Detail{Rating: "7.5", Reviews: "55"}, 5)
	assert.Equal(t, models.NotAvailable, rec.Rating, "off-scale rating is not taken")
	assert.Equal(t, "12", rec.Reviews)

	Enrich(&rec, &Detail{Rating: "4.4", Reviews: models.DefaultReviews}, 5)
	assert.Equal(t, "4.4", rec.Rating)
	assert.Equal(t, "12", rec.Reviews)

	v, ok := rec.RatingValue()
	require.True(t, ok)
	assert.InDelta(t, 4.4, v, 1e-9)
	n, ok := rec.ReviewCount()
	require.True(t, ok)
	assert.Equal(t, 12, n)
}
