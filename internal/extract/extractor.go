package extract

import "context"

// Extractor turns a URL into an extracted Page.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (*Page, error)
}

// Service fetches and extracts in one step.
type Service struct {
	fetcher *Fetcher
}

// NewService creates a Service over f.
func NewService(f *Fetcher) *Service {
	return &Service{fetcher: f}
}

// Extract fetches pageURL and runs Readable over the body.
func (s *Service) Extract(ctx context.Context, pageURL string) (*Page, error) {
	raw, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	p, err := Readable(raw.HTML, raw.URL)
	if err != nil {
		return nil, err
	}
	p.CrawlStatus = raw.CrawlStatus
	return p, nil
}
