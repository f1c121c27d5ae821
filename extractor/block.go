package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Block is one content block (a search-result tile or a whole product page)
// that fields are pulled from. Extraction only reads from it.
type Block struct {
	sel *goquery.Selection
}

// NewBlock wraps a goquery selection.
func NewBlock(sel *goquery.Selection) *Block {
	return &Block{sel: sel}
}

// Selection exposes the underlying selection for callers that need to walk
// the DOM directly.
func (b *Block) Selection() *goquery.Selection { return b.sel }

// Attr returns the trimmed value of an attribute on the block root.
func (b *Block) Attr(name string) string {
	v, _ := b.sel.Attr(name)
	return strings.TrimSpace(v)
}

// Find returns all descendants matching m.
func (b *Block) Find(m cascadia.Selector) *goquery.Selection {
	return b.sel.FindMatcher(m)
}

// Text returns the collapsed text of the first descendant matching m.
func (b *Block) Text(m cascadia.Selector) string {
	return collapse(b.sel.FindMatcher(m).First().Text())
}

// AttrOf returns the trimmed attribute of the first descendant matching m.
func (b *Block) AttrOf(m cascadia.Selector, name string) string {
	v, _ := b.sel.FindMatcher(m).First().Attr(name)
	return strings.TrimSpace(v)
}

// Has reports whether any descendant matches m.
func (b *Block) Has(m cascadia.Selector) bool {
	return b.sel.FindMatcher(m).Length() > 0
}

// Strategy pulls one typed value out of a block. It reports false when its
// target content is absent so the next strategy can run.
type Strategy[T any] func(*Block) (T, bool)

// FirstOf runs strategies in order and returns the first success.
func FirstOf[T any](b *Block, strategies ...Strategy[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s(b); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// textAt builds a strategy that reads non-blank text from a selector.
func textAt(selector string) Strategy[string] {
	m := cascadia.MustCompile(selector)
	return func(b *Block) (string, bool) {
		t := b.Text(m)
		return t, t != ""
	}
}

// attrAt builds a strategy that reads a non-blank attribute from a selector.
func attrAt(selector, attr string) Strategy[string] {
	m := cascadia.MustCompile(selector)
	return func(b *Block) (string, bool) {
		v := b.AttrOf(m, attr)
		return v, v != ""
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
