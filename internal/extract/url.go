// Package extract fetches pages and reduces them to readable text plus
// structural metadata.
package extract

import (
	"net/url"
	"strings"

	"github.com/queryarc/queryarc-api/internal/apperr"
)

// NormalizeURL trims raw and defaults the scheme to https.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.New(apperr.KindInvalidRequest, "url is required")
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidRequest, err, "invalid url")
	}
	if u.Host == "" {
		return "", apperr.New(apperr.KindInvalidRequest, "invalid url: missing host")
	}
	return s, nil
}
