package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/db"
	"github.com/queryarc/queryarc-api/internal/model"
)

var runItemInsert = db.InsertConfig{
	Table: "run_items",
	Columns: []string{
		"id", "run_id", "entity_id", "question_index", "question_text",
		"raw_answer", "raw_meta", "error", "created_at",
	},
	ConflictKeys: []string{"run_id", "entity_id", "question_index"},
}

var analysisInsert = db.InsertConfig{
	Table: "analysis_items",
	Columns: []string{
		"id", "run_item_id", "analyzer_version", "brand_mentioned", "competitors_mentioned",
		"strength_score", "evidence_snippet", "summary", "created_at",
	},
	ConflictKeys: []string{"run_item_id", "analyzer_version"},
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// jsonArg marshals v for a JSON column. Postgres takes the raw bytes as
// jsonb; SQLite stores text.
func jsonArg(v any, asText bool) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json column")
	}
	if asText {
		return string(b), nil
	}
	return b, nil
}

func runItemRows(runID string, items []model.RunItem, asText bool) ([][]any, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(items))
	for i := range items {
		it := &items[i]
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		it.RunID = runID

		meta, err := jsonArg(it.RawMeta, asText)
		if err != nil {
			return nil, err
		}
		var answer, itemErr any
		if it.RawAnswer != nil {
			answer = *it.RawAnswer
		}
		if it.Error != nil {
			if itemErr, err = jsonArg(it.Error, asText); err != nil {
				return nil, err
			}
		}
		rows = append(rows, []any{
			it.ID, runID, it.EntityID, it.QuestionIndex, it.QuestionText,
			answer, meta, itemErr, it.CreatedAt,
		})
	}
	return rows, nil
}

func analysisRows(items []model.AnalysisItem, asText bool) ([][]any, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(items))
	for i := range items {
		a := &items[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		comps := a.CompetitorsMentioned
		if comps == nil {
			comps = []string{}
		}
		compArg, err := jsonArg(comps, asText)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{
			a.ID, a.RunItemID, a.AnalyzerVersion, a.BrandMentioned, compArg,
			a.StrengthScore, a.EvidenceSnippet, a.Summary, a.CreatedAt,
		})
	}
	return rows, nil
}

func decodeRunItemJSON(it *model.RunItem, meta, itemErr []byte) error {
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &it.RawMeta); err != nil {
			return eris.Wrap(err, "store: unmarshal raw_meta")
		}
	}
	if len(itemErr) > 0 && string(itemErr) != "null" {
		it.Error = &model.ItemError{}
		if err := json.Unmarshal(itemErr, it.Error); err != nil {
			return eris.Wrap(err, "store: unmarshal item error")
		}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func projectNotFound(projectID string) error {
	return apperr.New(apperr.KindNotFound, "project not found: "+projectID)
}

func runNotFound(runID string) error {
	return apperr.New(apperr.KindNotFound, "run not found: "+runID)
}

func runNotInState(runID string, state model.RunStatus) error {
	return apperr.New(apperr.KindConflict, "run "+runID+" is not "+string(state))
}

type runCounters struct {
	status              model.RunStatus
	total, done, errors int
}

// summarize folds run rows into a RunSummary.
func summarize(rows []runCounters) *model.RunSummary {
	sum := &model.RunSummary{ByStatus: map[model.RunStatus]int{}}
	var rate float64
	var rated int
	for _, r := range rows {
		sum.Runs++
		sum.ByStatus[r.status]++
		sum.Items += r.done
		sum.ItemErrors += r.errors
		if r.total > 0 {
			rate += float64(r.done) / float64(r.total)
			rated++
		}
	}
	if rated > 0 {
		sum.AvgDoneRate = rate / float64(rated)
	}
	return sum
}

func missingTables(found []string) []string {
	var missing []string
	for _, t := range CoreTables {
		if !slices.Contains(found, t) {
			missing = append(missing, t)
		}
	}
	return missing
}
