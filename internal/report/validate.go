// Package report validates and rescores model-authored page reports.
package report

import (
	"encoding/json"
	"strings"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/model"
)

// TopLevelKeys are the sections every report must carry.
var TopLevelKeys = []string{
	"page_metadata",
	"executive_summary",
	"llm_interpretation",
	"summary_block",
	"definitions_block",
	"fanout_query_analysis",
	"faq_block",
	"canonical_resources_block",
	"content_structure",
	"clarity_readability",
	"eeat_block",
	"score_matrix",
	"fix_roadmap",
	"raw_data",
}

// ScoreKeys are the required score_matrix entries.
var ScoreKeys = []string{
	"summary_block",
	"definitions",
	"faq",
	"fanout_match",
	"canonical_resources",
	"structure",
	"clarity",
	"eeat",
	"final_score",
}

// Validate checks the coarse shape of a parsed report and returns it
// unchanged. Inner arrays and free-form sections are not inspected.
func Validate(r model.Report) (model.Report, error) {
	if missing := missingKeys(r, TopLevelKeys); len(missing) > 0 {
		return nil, apperr.Schema("missing top-level keys ["+strings.Join(missing, ", ")+"]", missing)
	}

	sm := r.Section("score_matrix")
	if missing := missingKeys(sm, ScoreKeys); len(missing) > 0 {
		return nil, apperr.Schema("missing score_matrix keys ["+strings.Join(missing, ", ")+"]", missing)
	}
	if !isInteger(sm["final_score"]) {
		return nil, apperr.Schema("score_matrix.final_score must be an integer", nil)
	}

	es := r.Section("executive_summary")
	if _, ok := number(es["overall_llm_readiness_score"]); !ok {
		return nil, apperr.Schema("executive_summary must contain a numeric overall_llm_readiness_score",
			[]string{"executive_summary.overall_llm_readiness_score"})
	}
	if _, ok := es["verdict"].(string); !ok {
		return nil, apperr.Schema("executive_summary must contain a verdict string",
			[]string{"executive_summary.verdict"})
	}
	return r, nil
}

// missingKeys lists keys absent from m in declaration order. A nil map is
// missing everything.
func missingKeys(m map[string]any, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// isInteger reports whether v is an integer-typed JSON value. Reports are
// decoded with UseNumber, so 90 and 90.0 stay distinguishable.
func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case json.Number:
		if strings.ContainsAny(n.String(), ".eE") {
			return false
		}
		_, err := n.Int64()
		return err == nil
	default:
		return false
	}
}

// number reads any JSON numeric value as float64. Booleans and strings are
// not numbers.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
