package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatingValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4.5", 4.5, true},
		{"0", 0, true},
		{"5", 5, true},
		{NotAvailable, 0, false},
		{"5.1", 0, false},
		{"-1", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		rec := ProductRecord{Rating: tt.in}
		got, ok := rec.RatingValue()
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestReviewCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1234", 1234, true},
		{"7", 7, true},
		{DefaultReviews, 0, false},
		{"1,234", 0, false},
		{"-3", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		rec := ProductRecord{Reviews: tt.in}
		got, ok := rec.ReviewCount()
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
