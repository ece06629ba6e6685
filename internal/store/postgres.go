package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/db"
	"github.com/queryarc/queryarc-api/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	type        TEXT NOT NULL CHECK (type IN ('customer', 'competitor')),
	name        TEXT NOT NULL,
	website     TEXT,
	brand_terms JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, type, name)
);

CREATE TABLE IF NOT EXISTS question_sets (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	version    INTEGER NOT NULL,
	questions  JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, version)
);

CREATE TABLE IF NOT EXISTS runs (
	id                   TEXT PRIMARY KEY,
	project_id           TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	question_set_version INTEGER NOT NULL,
	model                TEXT NOT NULL,
	prompt_version       TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'queued'
		CHECK (status IN ('queued', 'running', 'succeeded', 'failed', 'cancelled')),
	progress_total       INTEGER NOT NULL DEFAULT 0,
	progress_done        INTEGER NOT NULL DEFAULT 0,
	progress_errors      INTEGER NOT NULL DEFAULT 0,
	input_snapshot       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at           TIMESTAMPTZ,
	finished_at          TIMESTAMPTZ,
	CHECK (progress_done <= progress_total)
);

CREATE TABLE IF NOT EXISTS run_items (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	entity_id      TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	question_index INTEGER NOT NULL,
	question_text  TEXT NOT NULL,
	raw_answer     TEXT,
	raw_meta       JSONB NOT NULL DEFAULT '{}'::jsonb,
	error          JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, entity_id, question_index)
);

CREATE TABLE IF NOT EXISTS analysis_items (
	id                    TEXT PRIMARY KEY,
	run_item_id           TEXT NOT NULL REFERENCES run_items(id) ON DELETE CASCADE,
	analyzer_version      TEXT NOT NULL,
	brand_mentioned       BOOLEAN NOT NULL DEFAULT false,
	competitors_mentioned JSONB NOT NULL DEFAULT '[]'::jsonb,
	strength_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	evidence_snippet      TEXT,
	summary               TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_item_id, analyzer_version)
);

CREATE TABLE IF NOT EXISTS ai_preview_runs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	run_id     TEXT,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_project_created ON runs(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id);
CREATE INDEX IF NOT EXISTS idx_preview_project_created ON ai_preview_runs(project_id, created_at DESC);
`

const pgRunColumns = `id, project_id, question_set_version, model, prompt_version, status,
	progress_total, progress_done, progress_errors, input_snapshot, created_at, started_at, finished_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Health(ctx context.Context) (*Health, error) {
	h := &Health{}
	if err := s.pool.QueryRow(ctx, `SELECT current_database()`).Scan(&h.Database); err != nil {
		return nil, eris.Wrap(err, "postgres: health")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename = ANY($1) ORDER BY tablename`,
		CoreTables,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tables")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan table name")
		}
		h.Tables = append(h.Tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list tables")
	}
	h.Missing = missingTables(h.Tables)
	return h, nil
}

func (s *PostgresStore) EnsureProject(ctx context.Context, ownerID, name string) (*model.Project, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, owner_id, name, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (owner_id, name) DO NOTHING`,
		uuid.New().String(), ownerID, name, time.Now().UTC(),
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}

	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, created_at FROM projects WHERE owner_id = $1 AND name = $2`,
		ownerID, name,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get project")
	}
	return &p, nil
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, e model.Entity) (*model.Entity, error) {
	if e.BrandTerms == nil {
		e.BrandTerms = []string{}
	}
	terms, err := jsonArg(e.BrandTerms, false)
	if err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO entities (id, project_id, type, name, website, brand_terms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, type, name) DO UPDATE SET website = EXCLUDED.website, brand_terms = EXCLUDED.brand_terms
		RETURNING id, created_at`,
		uuid.New().String(), e.ProjectID, string(e.Type), e.Name, e.Website, terms, time.Now().UTC(),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert entity %s", e.Name)
	}
	return &e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, projectID string) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, type, name, COALESCE(website, ''), brand_terms, created_at
		FROM entities WHERE project_id = $1 ORDER BY created_at, name`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var terms []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &e.Name, &e.Website, &terms, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		if err := json.Unmarshal(terms, &e.BrandTerms); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal brand_terms")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities")
}

// questionSetAttempts bounds the insert loop when a concurrent writer
// claims the next version first.
const questionSetAttempts = 3

// EnsureQuestionSet returns the latest set when its questions are identical,
// otherwise inserts the next version. The project row is locked for the
// transaction so concurrent runs of one project take versions in turn.
func (s *PostgresStore) EnsureQuestionSet(ctx context.Context, projectID string, questions []string) (*model.QuestionSet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin question set tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, projectNotFound(projectID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lock project")
	}

	qArg, err := jsonArg(questions, false)
	if err != nil {
		return nil, err
	}

	for range questionSetAttempts {
		latest, err := latestQuestionSet(ctx, tx, projectID)
		if err != nil {
			return nil, err
		}
		if latest.ID != "" && slices.Equal(latest.Questions, questions) {
			return latest, nil
		}

		qs := model.QuestionSet{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			Version:   latest.Version + 1,
			Questions: questions,
			CreatedAt: time.Now().UTC(),
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO question_sets (id, project_id, version, questions, created_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (project_id, version) DO NOTHING`,
			qs.ID, projectID, qs.Version, qArg, qs.CreatedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert question set")
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, eris.Wrap(err, "postgres: commit question set")
		}
		return &qs, nil
	}
	return nil, apperr.New(apperr.KindConflict, "question set version is contended, retry the run")
}

// latestQuestionSet returns the highest version for the project, or a zero
// set with an empty ID when none exists.
func latestQuestionSet(ctx context.Context, tx pgx.Tx, projectID string) (*model.QuestionSet, error) {
	latest := model.QuestionSet{ProjectID: projectID}
	var raw []byte
	err := tx.QueryRow(ctx,
		`SELECT id, version, questions, created_at FROM question_sets WHERE project_id = $1 ORDER BY version DESC LIMIT 1`,
		projectID,
	).Scan(&latest.ID, &latest.Version, &raw, &latest.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &latest, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest question set")
	}
	if err := json.Unmarshal(raw, &latest.Questions); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal questions")
	}
	return &latest, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusQueued
	run.CreatedAt = time.Now().UTC()
	if run.InputSnapshot == nil {
		run.InputSnapshot = map[string]any{}
	}
	snap, err := jsonArg(run.InputSnapshot, false)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, question_set_version, model, prompt_version, status, input_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.ProjectID, run.QuestionSetVersion, run.Model, run.PromptVersion, string(run.Status), snap, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, runID string, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, started_at = $2, progress_total = $3, progress_done = 0, progress_errors = 0
		WHERE id = $4 AND status = $5`,
		string(model.RunStatusRunning), time.Now().UTC(), total, runID, string(model.RunStatusQueued),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return runNotInState(runID, model.RunStatusQueued)
	}
	return nil
}

// AppendRunItems inserts a batch of cells and advances the committed progress
// counters in one transaction. Cells that already exist are skipped.
func (s *PostgresStore) AppendRunItems(ctx context.Context, runID string, items []model.RunItem, progress model.Progress) (int, error) {
	rows, err := runItemRows(runID, items, false)
	if err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin append tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.InsertRows(ctx, tx, runItemInsert, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: append items to run %s", runID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE runs SET
			progress_done = GREATEST(progress_done, LEAST($1, progress_total)),
			progress_errors = GREATEST(progress_errors, LEAST($2, progress_total))
		WHERE id = $3 AND status = $4`,
		progress.Done, progress.Errors, runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return 0, runNotInState(runID, model.RunStatusRunning)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit append")
	}
	return int(n), nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	if !status.Terminal() {
		return eris.Errorf("postgres: finish run %s: %s is not terminal", runID, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3 AND status = $4 AND finished_at IS NULL`,
		string(status), time.Now().UTC(), runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return runNotInState(runID, model.RunStatusRunning)
	}
	return nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var snap []byte
	err := row.Scan(&r.ID, &r.ProjectID, &r.QuestionSetVersion, &r.Model, &r.PromptVersion, &r.Status,
		&r.Progress.Total, &r.Progress.Done, &r.Progress.Errors, &snap, &r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(snap) > 0 {
		if err := json.Unmarshal(snap, &r.InputSnapshot); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal input_snapshot")
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, runNotFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs")
}

func (s *PostgresStore) SummarizeRuns(ctx context.Context, since time.Time) (*model.RunSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, progress_total, progress_done, progress_errors FROM runs WHERE created_at >= $1`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summarize runs")
	}
	defer rows.Close()

	var counters []runCounters
	for rows.Next() {
		var c runCounters
		if err := rows.Scan(&c.status, &c.total, &c.done, &c.errors); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run counters")
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: summarize runs")
	}
	return summarize(counters), nil
}

func (s *PostgresStore) ListRunItems(ctx context.Context, runID string) ([]model.RunItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ri.id, ri.run_id, ri.entity_id, ri.question_index, ri.question_text, ri.raw_answer, ri.raw_meta, ri.error, ri.created_at
		FROM run_items ri JOIN entities e ON e.id = ri.entity_id
		WHERE ri.run_id = $1
		ORDER BY CASE WHEN e.type = 'customer' THEN 0 ELSE 1 END, e.name, ri.question_index`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run items")
	}
	defer rows.Close()

	var items []model.RunItem
	for rows.Next() {
		var it model.RunItem
		var meta, itemErr []byte
		if err := rows.Scan(&it.ID, &it.RunID, &it.EntityID, &it.QuestionIndex, &it.QuestionText,
			&it.RawAnswer, &meta, &itemErr, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run item")
		}
		if err := decodeRunItemJSON(&it, meta, itemErr); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list run items")
}

func (s *PostgresStore) InsertAnalysisItems(ctx context.Context, items []model.AnalysisItem) (int, error) {
	rows, err := analysisRows(items, false)
	if err != nil {
		return 0, err
	}
	n, err := db.InsertRows(ctx, s.pool, analysisInsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert analysis items")
	}
	return int(n), nil
}

func (s *PostgresStore) SavePreview(ctx context.Context, p model.Preview) (*model.Preview, error) {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	result, err := jsonArg(p.Result, false)
	if err != nil {
		return nil, err
	}
	var runID any
	if p.RunID != "" {
		runID = p.RunID
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO ai_preview_runs (id, project_id, run_id, result, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.ProjectID, runID, result, p.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert preview")
	}
	return &p, nil
}

func (s *PostgresStore) LatestPreview(ctx context.Context, projectID string) (*model.Preview, error) {
	var p model.Preview
	var runID *string
	var result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, run_id, result, created_at FROM ai_preview_runs
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`,
		projectID,
	).Scan(&p.ID, &p.ProjectID, &runID, &result, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest preview %s", projectID)
	}
	if runID != nil {
		p.RunID = *runID
	}
	if err := json.Unmarshal(result, &p.Result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal preview")
	}
	return &p, nil
}
