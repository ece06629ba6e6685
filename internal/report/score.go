package report

import (
	"math"

	"github.com/queryarc/queryarc-api/internal/model"
)

// Verdict labels, highest first.
const (
	VerdictReady          = "Ready"
	VerdictPartiallyReady = "Partially Ready"
	VerdictNeedsWork      = "Needs Work"
	VerdictPoor           = "Poor"
)

// Word-count penalties subtracted from the scaled score.
const (
	EmptyPagePenalty = 10
	ThinPagePenalty  = 3
	ThinPageWords    = 150
)

type weight struct {
	key string
	w   float64
}

// weights sum to 1.0 and are applied in this order.
var weights = []weight{
	{"summary_block", 0.15},
	{"definitions", 0.10},
	{"faq", 0.10},
	{"fanout_match", 0.20},
	{"canonical_resources", 0.10},
	{"structure", 0.10},
	{"clarity", 0.10},
	{"eeat", 0.15},
}

// Rescore recomputes final_score and verdict from the sub-scores and the
// page word count. The model's own final score and verdict are ignored. The
// returned report is a new value; r is left untouched.
func Rescore(r model.Report) model.Report {
	out := r.Clone()
	sm := out.Section("score_matrix")
	if sm == nil {
		sm = map[string]any{}
		out["score_matrix"] = sm
	}
	es := out.Section("executive_summary")
	if es == nil {
		es = map[string]any{}
		out["executive_summary"] = es
	}

	final := FinalScore(sm, wordCount(out.Section("page_metadata")))
	sm["final_score"] = final
	es["overall_llm_readiness_score"] = final
	es["verdict"] = Verdict(final)
	return out
}

// FinalScore computes the clamped 0-100 score. wc is nil when the word count
// is present but not an integer, in which case no penalty applies.
func FinalScore(sm map[string]any, wc *int) int {
	var base float64
	for _, w := range weights {
		// float64() on each term keeps the product from fusing with the add.
		base += float64(subScore(sm[w.key]) * w.w)
	}
	final := int(math.RoundToEven(float64(base * 10)))

	if wc != nil {
		switch {
		case *wc == 0:
			final -= EmptyPagePenalty
		case *wc < ThinPageWords:
			final -= ThinPagePenalty
		}
	}
	return min(max(final, 0), 100)
}

// Verdict maps a final score to its label. Lower bounds are inclusive.
func Verdict(score int) string {
	switch {
	case score >= 80:
		return VerdictReady
	case score >= 60:
		return VerdictPartiallyReady
	case score >= 40:
		return VerdictNeedsWork
	default:
		return VerdictPoor
	}
}

// subScore reads one 0-10 dimension. Absent or non-numeric values count as 0.
func subScore(v any) float64 {
	f, ok := number(v)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return min(max(f, 0), 10)
}

// wordCount returns the page word count when it is an integer. A missing
// value counts as 0.
func wordCount(pm map[string]any) *int {
	v, ok := pm["word_count"]
	if !ok {
		zero := 0
		return &zero
	}
	if !isInteger(v) {
		return nil
	}
	f, _ := number(v)
	n := int(f)
	return &n
}
