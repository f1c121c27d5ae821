package engine

import (
	"net/url"
	"strings"
)

// trackingParams never change which results a search URL shows.
var trackingParams = map[string]struct{}{
	"ref":        {},
	"ref_":       {},
	"crid":       {},
	"sprefix":    {},
	"qid":        {},
	"_encoding":  {},
	"dib":        {},
	"dib_tag":    {},
	"tag":        {},
	"content-id": {},
	"pd_rd_r":    {},
	"pd_rd_w":    {},
	"pd_rd_wg":   {},
	"pf_rd_p":    {},
	"pf_rd_r":    {},
}

// SearchTerm reports whether target carries a search term that can be
// typed into the site's search box. Plain text always does. A URL does
// only when it is a search path whose single non-tracking parameter is
// "k"; anything with filters, sorting or paging is loaded directly.
func SearchTerm(target string) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false
	}
	if !isURL(target) {
		return target, true
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	if p := strings.TrimRight(u.Path, "/"); p != "/s" {
		return "", false
	}

	term := ""
	for key, values := range u.Query() {
		if _, skip := trackingParams[key]; skip {
			continue
		}
		if key != "k" || len(values) != 1 {
			return "", false
		}
		term = strings.TrimSpace(values[0])
	}
	return term, term != ""
}

// SearchURL builds the results URL for a plain search term.
func SearchURL(baseURL, term string) string {
	return strings.TrimRight(baseURL, "/") + "/s?k=" + url.QueryEscape(term)
}

// ResolveTarget turns a plain term into a search URL and leaves URLs as
// they are.
func ResolveTarget(baseURL, target string) string {
	target = strings.TrimSpace(target)
	if isURL(target) {
		return target
	}
	return SearchURL(baseURL, target)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
