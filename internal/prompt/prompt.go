// Package prompt builds the system/user prompt pairs sent to the model.
// Every builder is pure: identical inputs give identical text.
package prompt

import (
	"net/url"
	"strings"
)

// Pair is a system prompt plus a user prompt.
type Pair struct {
	System string
	User   string
}

// Content types assigned from the URL path.
const (
	ContentHomepage   = "homepage"
	ContentCollection = "collection"
	ContentProduct    = "product"
	ContentArticle    = "article"
)

var (
	collectionMarkers = []string{"category", "tag", "section", "topics"}
	productMarkers    = []string{"product", "shop", "cart"}
)

// ClassifyContentType guesses the page type from its URL path. The root
// path is a homepage; collection markers win over product markers.
func ClassifyContentType(rawURL string) string {
	path := "/"
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	if path == "/" {
		return ContentHomepage
	}

	lower := strings.ToLower(path)
	switch {
	case containsAny(lower, collectionMarkers):
		return ContentCollection
	case containsAny(lower, productMarkers):
		return ContentProduct
	default:
		return ContentArticle
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
