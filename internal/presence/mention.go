package presence

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/queryarc/queryarc-api/internal/model"
)

// AnalyzerVersion tags analysis_items rows produced by AnalyzeMentions.
const AnalyzerVersion = "mention-v1"

const (
	snippetRadius     = 80
	strongMentionHits = 3
)

// AnalyzeMentions inspects one answered item. self is the entity the
// question was asked for; others are the remaining entities of the run.
func AnalyzeMentions(item model.RunItem, self model.Entity, others []model.Entity) model.AnalysisItem {
	a := model.AnalysisItem{
		RunItemID:            item.ID,
		AnalyzerVersion:      AnalyzerVersion,
		CompetitorsMentioned: []string{},
	}
	if item.RawAnswer == nil {
		a.Summary = "no answer"
		return a
	}
	answer := *item.RawAnswer

	hits, first := countMentions(answer, self.BrandTerms)
	a.BrandMentioned = hits > 0
	a.StrengthScore = float64(min(hits, strongMentionHits)) / strongMentionHits
	if first >= 0 {
		a.EvidenceSnippet = snippet(answer, first, snippetRadius)
	}

	for _, o := range others {
		if n, _ := countMentions(answer, o.BrandTerms); n > 0 {
			a.CompetitorsMentioned = append(a.CompetitorsMentioned, o.Name)
		}
	}

	if a.BrandMentioned {
		a.Summary = fmt.Sprintf("%s mentioned %d time(s)", self.Name, hits)
	} else {
		a.Summary = self.Name + " not mentioned"
	}
	if len(a.CompetitorsMentioned) > 0 {
		a.Summary += "; also mentioned: " + strings.Join(a.CompetitorsMentioned, ", ")
	}
	return a
}

// countMentions counts whole-word, case-insensitive matches of any term and
// returns the rune offset of the earliest one, or -1. Longer terms are
// matched first and a span is counted once, so "acme.com" is not also
// counted as "acme".
func countMentions(text string, terms []string) (int, int) {
	hay := []rune(strings.ToLower(text))
	covered := make([]bool, len(hay))

	sorted := slices.Clone(terms)
	slices.SortStableFunc(sorted, func(a, b string) int {
		return len([]rune(b)) - len([]rune(a))
	})

	total, first := 0, -1
	for _, term := range sorted {
		needle := []rune(strings.ToLower(strings.TrimSpace(term)))
		if len(needle) == 0 {
			continue
		}
		for i := 0; i+len(needle) <= len(hay); {
			if covered[i] || !hasPrefixAt(hay, needle, i) || !boundary(hay, i-1) || !boundary(hay, i+len(needle)) {
				i++
				continue
			}
			for j := i; j < i+len(needle); j++ {
				covered[j] = true
			}
			total++
			if first < 0 || i < first {
				first = i
			}
			i += len(needle)
		}
	}
	return total, first
}

func hasPrefixAt(hay, needle []rune, at int) bool {
	for j, r := range needle {
		if hay[at+j] != r {
			return false
		}
	}
	return true
}

// boundary reports whether position i is outside hay or not a word rune.
func boundary(hay []rune, i int) bool {
	if i < 0 || i >= len(hay) {
		return true
	}
	r := hay[i]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func snippet(text string, at, radius int) string {
	rs := []rune(text)
	at = min(at, len(rs))
	start := max(at-radius, 0)
	end := min(at+radius, len(rs))
	s := strings.TrimSpace(string(rs[start:end]))
	if start > 0 {
		s = "…" + s
	}
	if end < len(rs) {
		s += "…"
	}
	return s
}
