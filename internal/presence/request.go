// Package presence runs answer-presence batches: every entity (the brand
// and its competitors) is asked every question, answers are persisted as
// run items in batches, and mentions are analysed once the run ends.
package presence

import (
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/config"
	"github.com/queryarc/queryarc-api/internal/extract"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/resilience"
)

// CancelPolicy controls whether runs may be cancelled by callers.
type CancelPolicy string

const (
	CancelManual   CancelPolicy = "manual"
	CancelDisabled CancelPolicy = "disabled"
)

// Request is the input of one run. Zero limits fall back to Options.
type Request struct {
	Website        string   `json:"website"`
	Topics         string   `json:"topics"`
	Competitors    []string `json:"competitors"`
	Questions      []string `json:"questions"`
	ProjectName    string   `json:"project_name,omitempty"`
	OwnerID        string   `json:"owner_id,omitempty"`
	BrandTerms     []string `json:"brand_terms,omitempty"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
	MaxRetries     int      `json:"max_retries,omitempty"`
	MaxQuestions   int      `json:"max_questions,omitempty"`
	MaxEntities    int      `json:"max_entities,omitempty"`
}

// Result summarises a finished run.
type Result struct {
	RunID           string          `json:"run_id"`
	ProjectID       string          `json:"project_id"`
	EntitiesCount   int             `json:"entities_count"`
	QuestionsCount  int             `json:"questions_count"`
	RunItemsCreated int             `json:"run_items_created"`
	RunItemsErrors  int             `json:"run_items_errors"`
	Status          model.RunStatus `json:"status"`
}

// Options are the engine defaults and ceilings.
type Options struct {
	MaxConcurrency        int
	MaxConcurrencyCeiling int
	MaxRetries            int
	BatchSize             int
	MaxQuestions          int
	MaxEntities           int
	CancelPolicy          CancelPolicy
	RunTimeout            time.Duration
	DefaultOwner          string
	Policy                resilience.Policy
}

const maxRetriesCeiling = 10

// DefaultOptions returns the stock engine settings.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:        4,
		MaxConcurrencyCeiling: 16,
		MaxRetries:            3,
		BatchSize:             25,
		MaxQuestions:          20,
		MaxEntities:           6,
		CancelPolicy:          CancelManual,
		DefaultOwner:          "anonymous",
		Policy:                resilience.NewPolicy(resilience.DefaultRetryConfig()),
	}
}

// OptionsFromConfig converts the presence and retry config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Presence
	return Options{
		MaxConcurrency:        p.MaxConcurrency,
		MaxConcurrencyCeiling: p.MaxConcurrencyCeiling,
		MaxRetries:            p.MaxRetries,
		BatchSize:             p.BatchSize,
		MaxQuestions:          p.MaxQuestions,
		MaxEntities:           p.MaxEntities,
		CancelPolicy:          CancelPolicy(p.CancelPolicy),
		RunTimeout:            time.Duration(p.RunTimeoutSecs) * time.Second,
		DefaultOwner:          p.DefaultOwner,
		Policy:                resilience.PolicyFromConfig(cfg.Retry),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = def.MaxConcurrency
	}
	if o.MaxConcurrencyCeiling <= 0 {
		o.MaxConcurrencyCeiling = max(def.MaxConcurrencyCeiling, o.MaxConcurrency)
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.MaxQuestions <= 0 {
		o.MaxQuestions = def.MaxQuestions
	}
	if o.MaxEntities <= 0 {
		o.MaxEntities = def.MaxEntities
	}
	if o.CancelPolicy == "" {
		o.CancelPolicy = def.CancelPolicy
	}
	if o.DefaultOwner == "" {
		o.DefaultOwner = def.DefaultOwner
	}
	if o.Policy.MaxAttempts() == 0 {
		o.Policy = def.Policy
	}
	return o
}

// limits are the effective per-run knobs after clamping.
type limits struct {
	concurrency int
	retries     int
	questions   int
	entities    int
}

func (o Options) limitsFor(req Request) limits {
	l := limits{
		concurrency: o.MaxConcurrency,
		retries:     o.MaxRetries,
		questions:   o.MaxQuestions,
		entities:    o.MaxEntities,
	}
	if req.MaxConcurrency > 0 {
		l.concurrency = min(req.MaxConcurrency, o.MaxConcurrencyCeiling)
	}
	if req.MaxRetries > 0 {
		l.retries = min(req.MaxRetries, maxRetriesCeiling)
	}
	if req.MaxQuestions > 0 {
		l.questions = min(req.MaxQuestions, o.MaxQuestions)
	}
	if req.MaxEntities > 0 {
		l.entities = min(req.MaxEntities, o.MaxEntities)
	}
	return l
}

// cleanQuestions trims, drops blanks and applies the question cap. Order is
// preserved because it defines question_index.
func cleanQuestions(qs []string, limit int) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// entitySpec is an entity before it is persisted.
type entitySpec struct {
	typ     model.EntityType
	name    string
	website string
	terms   []string
}

// buildEntities returns the customer followed by one competitor per
// distinct non-empty competitor string, capped at limit entities.
func buildEntities(req Request, limit int) ([]entitySpec, error) {
	site, err := extract.NormalizeURL(req.Website)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidRequest, err, "website is required and must be a valid URL")
	}
	host := hostName(site)
	name := strings.TrimSpace(req.ProjectName)
	if name == "" {
		name = host
	}

	customer := entitySpec{
		typ:     model.EntityCustomer,
		name:    name,
		website: site,
		terms:   brandTerms(append([]string{name, host, registrableDomain(host), domainLabel(host)}, req.BrandTerms...)...),
	}
	out := []entitySpec{customer}
	seen := map[string]bool{strings.ToLower(name): true, strings.ToLower(host): true}

	for _, raw := range req.Competitors {
		if len(out) >= limit {
			break
		}
		c := competitorSpec(raw)
		if c == nil {
			continue
		}
		key := strings.ToLower(c.name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, *c)
	}
	return out, nil
}

func competitorSpec(raw string) *entitySpec {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.ContainsAny(raw, " \t") && strings.Contains(raw, ".") {
		if site, err := extract.NormalizeURL(raw); err == nil {
			host := hostName(site)
			return &entitySpec{
				typ:     model.EntityCompetitor,
				name:    host,
				website: site,
				terms:   brandTerms(host, registrableDomain(host), domainLabel(host)),
			}
		}
	}
	return &entitySpec{typ: model.EntityCompetitor, name: raw, terms: brandTerms(raw)}
}

func hostName(site string) string {
	u, err := url.Parse(site)
	if err != nil {
		return site
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// registrableDomain returns the public-suffix-plus-one of host, so
// "blog.acme.co.uk" becomes "acme.co.uk". Hosts without a known suffix
// (IPs, localhost) are returned unchanged.
func registrableDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// domainLabel returns "acme" for "acme.co.uk" and "shop.acme.com".
func domainLabel(host string) string {
	label, _, _ := strings.Cut(registrableDomain(host), ".")
	return label
}

// brandTerms de-duplicates terms case-insensitively and drops terms shorter
// than three characters, which match too much prose.
func brandTerms(terms ...string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if len([]rune(t)) < 3 || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
