package presence

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/queryarc/queryarc-api/internal/model"
)

// EntitySummary is the per-entity line of a preview.
type EntitySummary struct {
	EntityID    string  `json:"entity_id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Questions   int     `json:"questions"`
	Answered    int     `json:"answered"`
	Errors      int     `json:"errors"`
	Mentions    int     `json:"mentions"`
	MentionRate float64 `json:"mention_rate"`
}

// analyzeRun reads the committed items of a run, stores mention analysis
// for every answered item and saves a preview for the project.
func (e *Engine) analyzeRun(ctx context.Context, projectID, runID string, status model.RunStatus, entities []model.Entity, questions int) error {
	items, err := e.store.ListRunItems(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "presence: list run items")
	}

	analyses := Analyze(items, entities)
	if _, err := e.store.InsertAnalysisItems(ctx, analyses); err != nil {
		return eris.Wrap(err, "presence: insert analysis items")
	}

	_, err = e.store.SavePreview(ctx, model.Preview{
		ProjectID: projectID,
		RunID:     runID,
		Result:    BuildPreview(runID, status, e.llm.Model(), questions, entities, items, analyses),
	})
	return eris.Wrap(err, "presence: save preview")
}

// Analyze runs mention analysis over every answered item.
func Analyze(items []model.RunItem, entities []model.Entity) []model.AnalysisItem {
	byID := make(map[string]int, len(entities))
	for i, e := range entities {
		byID[e.ID] = i
	}

	out := make([]model.AnalysisItem, 0, len(items))
	for _, it := range items {
		idx, ok := byID[it.EntityID]
		if !ok || it.RawAnswer == nil {
			continue
		}
		others := make([]model.Entity, 0, len(entities)-1)
		for j, o := range entities {
			if j != idx {
				others = append(others, o)
			}
		}
		out = append(out, AnalyzeMentions(it, entities[idx], others))
	}
	return out
}

// BuildPreview summarises a run per entity, in entity order.
func BuildPreview(runID string, status model.RunStatus, modelName string, questions int, entities []model.Entity, items []model.RunItem, analyses []model.AnalysisItem) map[string]any {
	mentioned := make(map[string]bool, len(analyses))
	for _, a := range analyses {
		if a.BrandMentioned {
			mentioned[a.RunItemID] = true
		}
	}

	sums := make([]EntitySummary, len(entities))
	idx := make(map[string]int, len(entities))
	for i, e := range entities {
		sums[i] = EntitySummary{EntityID: e.ID, Name: e.Name, Type: string(e.Type), Questions: questions}
		idx[e.ID] = i
	}
	for _, it := range items {
		i, ok := idx[it.EntityID]
		if !ok {
			continue
		}
		switch {
		case it.Failed():
			sums[i].Errors++
		default:
			sums[i].Answered++
			if mentioned[it.ID] {
				sums[i].Mentions++
			}
		}
	}
	for i := range sums {
		if sums[i].Answered > 0 {
			sums[i].MentionRate = float64(sums[i].Mentions) / float64(sums[i].Answered)
		}
	}

	return map[string]any{
		"run_id":       runID,
		"status":       string(status),
		"model":        modelName,
		"questions":    questions,
		"entities":     sums,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}
}
