package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryarc/queryarc-api/internal/model"
)

func TestBuildEntities(t *testing.T) {
	specs, err := buildEntities(Request{
		Website:     "www.Acme.com/pricing",
		Competitors: []string{"https://globex.com", " ", "Initech Corp", "GLOBEX.COM", "acme.com", "Hooli"},
		BrandTerms:  []string{"Acme Cloud", "AC"},
	}, 4)
	require.NoError(t, err)
	require.Len(t, specs, 4)

	assert.Equal(t, model.EntityCustomer, specs[0].typ)
	assert.Equal(t, "acme.com", specs[0].name)
	assert.Equal(t, "https://www.Acme.com/pricing", specs[0].website)
	assert.Equal(t, []string{"acme.com", "acme", "Acme Cloud"}, specs[0].terms)

	assert.Equal(t, "globex.com", specs[1].name)
	assert.Equal(t, []string{"globex.com", "globex"}, specs[1].terms)
	assert.Equal(t, "Initech Corp", specs[2].name)
	assert.Empty(t, specs[2].website)
	assert.Equal(t, "Hooli", specs[3].name)
}

func TestBuildEntities_SubdomainWebsite(t *testing.T) {
	specs, err := buildEntities(Request{
		Website:     "https://blog.acme.com",
		Competitors: []string{"shop.globex.co.uk"},
	}, 6)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, []string{"blog.acme.com", "acme.com", "acme"}, specs[0].terms)
	assert.Equal(t, []string{"shop.globex.co.uk", "globex.co.uk", "globex"}, specs[1].terms)

	hits, _ := countMentions("You should start a blog; many companies blog about this.", specs[0].terms)
	assert.Zero(t, hits)
	hits, _ = countMentions("Acme has a good blog.", specs[0].terms)
	assert.Equal(t, 1, hits)
}

func TestDomainLabel(t *testing.T) {
	tests := map[string]string{
		"acme.com":            "acme",
		"app.acme.com":        "acme",
		"en.acme.co.uk":       "acme",
		"localhost":           "localhost",
		"127.0.0.1":           "127",
		"docs.acme.github.io": "acme",
	}
	for host, want := range tests {
		assert.Equal(t, want, domainLabel(host), host)
	}
}

func TestBuildEntities_ProjectName(t *testing.T) {
	specs, err := buildEntities(Request{Website: "acme.com", ProjectName: "Acme"}, 6)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Acme", specs[0].name)
	assert.Equal(t, []string{"Acme", "acme.com"}, specs[0].terms)
}

func TestCleanQuestions(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, cleanQuestions([]string{" a ", "", "b", "c"}, 2))
	assert.Empty(t, cleanQuestions([]string{" ", ""}, 5))
}

func TestLimitsFor(t *testing.T) {
	o := DefaultOptions()
	l := o.limitsFor(Request{})
	assert.Equal(t, limits{concurrency: 4, retries: 3, questions: 20, entities: 6}, l)

	l = o.limitsFor(Request{MaxConcurrency: 100, MaxRetries: 50, MaxQuestions: 5, MaxEntities: 99})
	assert.Equal(t, limits{concurrency: 16, retries: 10, questions: 5, entities: 6}, l)
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{MaxConcurrency: 32}.withDefaults()
	assert.Equal(t, 32, o.MaxConcurrencyCeiling)
	assert.Equal(t, 25, o.BatchSize)
	assert.Equal(t, CancelManual, o.CancelPolicy)
	assert.Equal(t, 3, o.Policy.MaxAttempts())
}
