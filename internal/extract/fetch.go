package extract

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/apperr"
)

// Crawl statuses reported on every page.
const (
	CrawlSuccess = "success"
	CrawlPartial = "partial"
)

// RawPage is the fetched document before extraction.
type RawPage struct {
	URL         string
	StatusCode  int
	CrawlStatus string
	HTML        string
}

// FetchOptions configures the Fetcher.
type FetchOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Fetcher downloads pages over HTTP.
type Fetcher struct {
	client *http.Client
	opts   FetchOptions
}

// NewFetcher creates a Fetcher. Zero options fall back to defaults.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "queryarc/1.0 (+https://queryarc.com)"
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		opts: opts,
	}
}

// Fetch GETs the page. Any completed response is usable: 200 is a success,
// every other status a partial crawl. Transport failures are fetch errors.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*RawPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFetch, err, "failed to fetch url")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFetch, err, "failed to fetch url")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFetch, eris.Wrap(err, "read body"), "failed to fetch url")
	}

	status := CrawlSuccess
	if resp.StatusCode != http.StatusOK {
		status = CrawlPartial
		zap.L().Debug("extract: non-200 response",
			zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode),
		)
	}
	return &RawPage{
		URL:         pageURL,
		StatusCode:  resp.StatusCode,
		CrawlStatus: status,
		HTML:        string(body),
	}, nil
}
