package models

import (
	"strconv"
	"time"
)

// Display defaults for fields the page did not provide.
const (
	NotAvailable        = "N/A"
	DefaultReviews      = "0"
	DefaultAvailability = "In Stock"
)

// Price holds the price as shown on the page plus, when it can be
// parsed, the numeric amount.
type Price struct {
	Display string   `json:"display"`
	Amount  *float64 `json:"amount,omitempty"`
}

// ProductRecord is one extracted product.
type ProductRecord struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	ImageURLs     []string  `json:"imageUrls"`
	Price         Price     `json:"price"`
	Rating        string    `json:"rating"`
	Reviews       string    `json:"reviews"`
	ItemID        string    `json:"itemId"`
	ReferralLink  string    `json:"referralLink"`
	CanonicalLink string    `json:"canonicalLink"`
	Availability  string    `json:"availability"`
	ScrapedAt     time.Time `json:"scrapedAt"`
}

// RatingValue returns the numeric rating on the 0-5 scale, if one was found.
func (p *ProductRecord) RatingValue() (float64, bool) { return ParseRating(p.Rating) }

// ReviewCount returns the number of reviews, if one was found.
func (p *ProductRecord) ReviewCount() (int, bool) { return ParseReviewCount(p.Reviews) }

// ParseRating reads a rating display value. NotAvailable and anything off
// the 0-5 scale report false.
func ParseRating(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseReviewCount reads a review count display value. DefaultReviews is
// what the extractor writes when nothing was found, so it reports false.
func ParseReviewCount(s string) (int, bool) {
	if s == DefaultReviews {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
