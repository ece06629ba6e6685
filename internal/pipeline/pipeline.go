// Package pipeline runs single-shot page analysis: fetch, extract, prompt,
// complete, parse, validate and rescore.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/extract"
	"github.com/queryarc/queryarc-api/internal/llm"
	"github.com/queryarc/queryarc-api/internal/metrics"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/prompt"
	"github.com/queryarc/queryarc-api/internal/report"
	"github.com/queryarc/queryarc-api/internal/resilience"
)

// DefaultTemperature is the sampling temperature for report generation.
const DefaultTemperature = 0.2

// Archiver stores a finished report and returns where it went.
type Archiver interface {
	Put(ctx context.Context, pageURL string, r model.Report) (string, error)
}

// Analyzer turns a URL into a validated, rescored report.
type Analyzer struct {
	extractor   extract.Extractor
	llm         llm.Completer
	policy      resilience.Policy
	archive     Archiver
	metrics     *metrics.Metrics
	temperature float64
	now         func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithPolicy sets the retry policy for the LLM call.
func WithPolicy(p resilience.Policy) Option {
	return func(a *Analyzer) { a.policy = p }
}

// WithArchive stores every successful report. Archive failures are logged,
// never returned.
func WithArchive(ar Archiver) Option {
	return func(a *Analyzer) { a.archive = ar }
}

// WithMetrics records analyze outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(a *Analyzer) { a.temperature = t }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an Analyzer.
func New(ex extract.Extractor, c llm.Completer, opts ...Option) *Analyzer {
	a := &Analyzer{
		extractor:   ex,
		llm:         c,
		policy:      resilience.NewPolicy(resilience.DefaultRetryConfig()),
		temperature: DefaultTemperature,
		now:         time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze runs every stage for rawURL. Any stage error fails the request
// with a classified *apperr.Error.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string) (model.Report, error) {
	start := a.now()
	r, err := a.analyze(ctx, rawURL, start)
	if err != nil {
		a.metrics.ObserveAnalyze(string(apperr.KindOf(err)), 0)
		zap.L().Warn("pipeline: analyze failed",
			zap.String("url", rawURL),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	score, _ := r.Section("score_matrix")["final_score"].(int)
	a.metrics.ObserveAnalyze("ok", score)
	zap.L().Info("pipeline: analyze complete",
		zap.String("url", rawURL),
		zap.Int("final_score", score),
		zap.Duration("elapsed", a.now().Sub(start)),
	)
	return r, nil
}

func (a *Analyzer) analyze(ctx context.Context, rawURL string, start time.Time) (model.Report, error) {
	pageURL, err := extract.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	page, err := a.extractor.Extract(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	contentType := prompt.ClassifyContentType(pageURL)
	lastCrawled := a.now().UTC().Format("2006-01-02T15:04:05.000000Z")
	llmVersion := a.llm.Model()

	pair := prompt.BuildReport(prompt.ReportInput{
		URL:              pageURL,
		CrawlStatus:      page.CrawlStatus,
		DetectedLanguage: page.Language,
		ContentType:      contentType,
		LastCrawled:      lastCrawled,
		LLMVersion:       llmVersion,
		WordCount:        page.WordCount,
		Title:            page.Title,
		Description:      page.Description,
		H1:               page.H1,
		H2:               page.H2,
		CleanText:        page.CleanText,
		HTMLExcerpt:      page.HTMLExcerpt,
	})

	temp := a.temperature
	cfg := a.policy.RetryConfig(func(attempt int, err error) {
		a.metrics.ObserveRetry()
		resilience.RetryLogger("llm", "analyze", zap.String("url", pageURL))(attempt, err)
	})
	callStart := a.now()
	comp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context, _ int) (*llm.Completion, error) {
		return a.llm.Complete(ctx, llm.Request{System: pair.System, User: pair.User, JSON: true, Temperature: &temp})
	})
	elapsed := a.now().Sub(callStart)
	if err != nil {
		a.metrics.ObserveLLMCall("analyze", string(apperr.KindOf(err)), elapsed)
		return nil, err
	}
	a.metrics.ObserveLLMCall("analyze", "ok", elapsed)

	parsed, err := llm.ParseObject(comp.Text)
	if err != nil {
		return nil, err
	}
	validated, err := report.Validate(parsed)
	if err != nil {
		return nil, err
	}

	stamped := validated.Clone()
	pm := section(stamped, "page_metadata")
	pm["url"] = pageURL
	pm["crawl_status"] = page.CrawlStatus
	pm["detected_language"] = page.Language
	pm["content_type"] = contentType
	pm["word_count"] = page.WordCount
	pm["last_crawled"] = lastCrawled
	pm["llm_version"] = llmVersion

	rd := section(stamped, "raw_data")
	rd["clean_text"] = page.CleanText
	rd["html_extracted"] = page.HTMLExcerpt
	rd["tokens"] = page.WordCount
	rd["processing_time"] = roundMillis(a.now().Sub(start))

	final := report.Rescore(stamped)

	if a.archive != nil {
		key, err := a.archive.Put(ctx, pageURL, final)
		if err != nil {
			zap.L().Warn("pipeline: archive failed", zap.String("url", pageURL), zap.Error(eris.Wrap(err, "archive")))
		} else {
			zap.L().Debug("pipeline: archived", zap.String("key", key))
		}
	}
	return final, nil
}

// section returns r[name] as an object, replacing a non-object value.
func section(r model.Report, name string) map[string]any {
	if m := r.Section(name); m != nil {
		return m
	}
	m := map[string]any{}
	r[name] = m
	return m
}

// roundMillis returns d in seconds rounded to three decimals.
func roundMillis(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
