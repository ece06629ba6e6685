package store

import (
	"context"
	"time"

	"github.com/queryarc/queryarc-api/internal/model"
)

// CoreTables are the tables /db-health reports on.
var CoreTables = []string{"projects", "entities", "question_sets", "runs", "run_items", "analysis_items"}

// Health describes database reachability and schema presence.
type Health struct {
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
	Missing  []string `json:"missing"`
}

// Store defines the persistence interface for projects, runs and previews.
type Store interface {
	// Projects, entities and question sets
	EnsureProject(ctx context.Context, ownerID, name string) (*model.Project, error)
	UpsertEntity(ctx context.Context, e model.Entity) (*model.Entity, error)
	ListEntities(ctx context.Context, projectID string) ([]model.Entity, error)
	EnsureQuestionSet(ctx context.Context, projectID string, questions []string) (*model.QuestionSet, error)

	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	StartRun(ctx context.Context, runID string, total int) error
	AppendRunItems(ctx context.Context, runID string, items []model.RunItem, progress model.Progress) (int, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
	SummarizeRuns(ctx context.Context, since time.Time) (*model.RunSummary, error)
	ListRunItems(ctx context.Context, runID string) ([]model.RunItem, error)

	// Analysis and previews
	InsertAnalysisItems(ctx context.Context, items []model.AnalysisItem) (int, error)
	SavePreview(ctx context.Context, p model.Preview) (*model.Preview, error)
	LatestPreview(ctx context.Context, projectID string) (*model.Preview, error)

	// Lifecycle
	Health(ctx context.Context) (*Health, error)
	Migrate(ctx context.Context) error
	Close() error
}
