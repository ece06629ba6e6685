package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/queryarc/queryarc-api/internal/db"
	"github.com/queryarc/queryarc-api/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and tests.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps flush transactions serialized.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, path: dsn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	type        TEXT NOT NULL CHECK (type IN ('customer', 'competitor')),
	name        TEXT NOT NULL,
	website     TEXT,
	brand_terms TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL,
	UNIQUE (project_id, type, name)
);

CREATE TABLE IF NOT EXISTS question_sets (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	version    INTEGER NOT NULL,
	questions  TEXT NOT NULL,
	created_at DATETIME NOT NULL,
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
	input_snapshot       TEXT NOT NULL DEFAULT '{}',
	created_at           DATETIME NOT NULL,
	started_at           DATETIME,
	finished_at          DATETIME,
	CHECK (progress_done <= progress_total)
);

CREATE TABLE IF NOT EXISTS run_items (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	entity_id      TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	question_index INTEGER NOT NULL,
	question_text  TEXT NOT NULL,
	raw_answer     TEXT,
	raw_meta       TEXT NOT NULL DEFAULT '{}',
	error          TEXT,
	created_at     DATETIME NOT NULL,
	UNIQUE (run_id, entity_id, question_index)
);

CREATE TABLE IF NOT EXISTS analysis_items (
	id                    TEXT PRIMARY KEY,
	run_item_id           TEXT NOT NULL REFERENCES run_items(id) ON DELETE CASCADE,
	analyzer_version      TEXT NOT NULL,
	brand_mentioned       BOOLEAN NOT NULL DEFAULT 0,
	competitors_mentioned TEXT NOT NULL DEFAULT '[]',
	strength_score        REAL NOT NULL DEFAULT 0,
	evidence_snippet      TEXT,
	summary               TEXT,
	created_at            DATETIME NOT NULL,
	UNIQUE (run_item_id, analyzer_version)
);

CREATE TABLE IF NOT EXISTS ai_preview_runs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	run_id     TEXT,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_project_created ON runs(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id);
CREATE INDEX IF NOT EXISTS idx_preview_project_created ON ai_preview_runs(project_id, created_at);
`

const sqliteRunColumns = `id, project_id, question_set_version, model, prompt_version, status,
	progress_total, progress_done, progress_errors, input_snapshot, created_at, started_at, finished_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Health(ctx context.Context) (*Health, error) {
	h := &Health{Database: s.path}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table name")
		}
		if slices.Contains(CoreTables, name) {
			h.Tables = append(h.Tables, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	h.Missing = missingTables(h.Tables)
	return h, nil
}

func (s *SQLiteStore) EnsureProject(ctx context.Context, ownerID, name string) (*model.Project, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, name, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (owner_id, name) DO NOTHING`,
		uuid.New().String(), ownerID, name, time.Now().UTC(),
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
	}

	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, created_at FROM projects WHERE owner_id = ? AND name = ?`,
		ownerID, name,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get project")
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, e model.Entity) (*model.Entity, error) {
	if e.BrandTerms == nil {
		e.BrandTerms = []string{}
	}
	terms, err := jsonArg(e.BrandTerms, true)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO entities (id, project_id, type, name, website, brand_terms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, type, name) DO UPDATE SET website = excluded.website, brand_terms = excluded.brand_terms
		RETURNING id, created_at`,
		uuid.New().String(), e.ProjectID, string(e.Type), e.Name, e.Website, terms, time.Now().UTC(),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert entity %s", e.Name)
	}
	return &e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, projectID string) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, type, name, COALESCE(website, ''), brand_terms, created_at
		FROM entities WHERE project_id = ? ORDER BY created_at, name`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		var terms string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &e.Name, &e.Website, &terms, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		if err := json.Unmarshal([]byte(terms), &e.BrandTerms); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal brand_terms")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities")
}

func (s *SQLiteStore) EnsureQuestionSet(ctx context.Context, projectID string, questions []string) (*model.QuestionSet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin question set tx")
	}
	defer tx.Rollback() //nolint:errcheck

	latest := model.QuestionSet{ProjectID: projectID}
	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT id, version, questions, created_at FROM question_sets WHERE project_id = ? ORDER BY version DESC LIMIT 1`,
		projectID,
	).Scan(&latest.ID, &latest.Version, &raw, &latest.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: latest question set")
	default:
		if err := json.Unmarshal([]byte(raw), &latest.Questions); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal questions")
		}
		if slices.Equal(latest.Questions, questions) {
			return &latest, nil
		}
	}

	qs := model.QuestionSet{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Version:   latest.Version + 1,
		Questions: questions,
		CreatedAt: time.Now().UTC(),
	}
	qArg, err := jsonArg(questions, true)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO question_sets (id, project_id, version, questions, created_at) VALUES (?, ?, ?, ?, ?)`,
		qs.ID, projectID, qs.Version, qArg, qs.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert question set")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit question set")
	}
	return &qs, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusQueued
	run.CreatedAt = time.Now().UTC()
	if run.InputSnapshot == nil {
		run.InputSnapshot = map[string]any{}
	}
	snap, err := jsonArg(run.InputSnapshot, true)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, question_set_version, model, prompt_version, status, input_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, run.QuestionSetVersion, run.Model, run.PromptVersion, string(run.Status), snap, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, runID string, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ?, progress_total = ?, progress_done = 0, progress_errors = 0
		WHERE id = ? AND status = ?`,
		string(model.RunStatusRunning), time.Now().UTC(), total, runID, string(model.RunStatusQueued),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start run %s", runID)
	}
	return checkRowsAffected(res, runNotInState(runID, model.RunStatusQueued))
}

// AppendRunItems inserts a batch of cells and advances the committed progress
// counters in one transaction. Cells that already exist are skipped.
func (s *SQLiteStore) AppendRunItems(ctx context.Context, runID string, items []model.RunItem, progress model.Progress) (int, error) {
	rows, err := runItemRows(runID, items, true)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin append tx")
	}
	defer tx.Rollback() //nolint:errcheck

	cfg := runItemInsert
	cfg.Placeholder = db.Question
	inserted, err := sqliteInsert(ctx, tx, cfg, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: append items to run %s", runID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET
			progress_done = MAX(progress_done, MIN(?, progress_total)),
			progress_errors = MAX(progress_errors, MIN(?, progress_total))
		WHERE id = ? AND status = ?`,
		progress.Done, progress.Errors, runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update progress %s", runID)
	}
	if err := checkRowsAffected(res, runNotInState(runID, model.RunStatusRunning)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit append")
	}
	return int(inserted), nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	if !status.Terminal() {
		return eris.Errorf("sqlite: finish run %s: %s is not terminal", runID, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ? AND status = ? AND finished_at IS NULL`,
		string(status), time.Now().UTC(), runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, runNotInState(runID, model.RunStatusRunning))
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) SummarizeRuns(ctx context.Context, since time.Time) (*model.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, progress_total, progress_done, progress_errors FROM runs WHERE created_at >= ?`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summarize runs")
	}
	defer rows.Close()

	var counters []runCounters
	for rows.Next() {
		var c runCounters
		if err := rows.Scan(&c.status, &c.total, &c.done, &c.errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run counters")
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: summarize runs")
	}
	return summarize(counters), nil
}

func (s *SQLiteStore) ListRunItems(ctx context.Context, runID string) ([]model.RunItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ri.id, ri.run_id, ri.entity_id, ri.question_index, ri.question_text, ri.raw_answer, ri.raw_meta, ri.error, ri.created_at
		FROM run_items ri JOIN entities e ON e.id = ri.entity_id
		WHERE ri.run_id = ?
		ORDER BY CASE WHEN e.type = 'customer' THEN 0 ELSE 1 END, e.name, ri.question_index`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run items")
	}
	defer rows.Close()

	var items []model.RunItem
	for rows.Next() {
		var it model.RunItem
		var answer, itemErr sql.NullString
		var meta string
		if err := rows.Scan(&it.ID, &it.RunID, &it.EntityID, &it.QuestionIndex, &it.QuestionText,
			&answer, &meta, &itemErr, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run item")
		}
		if answer.Valid {
			it.RawAnswer = &answer.String
		}
		if err := decodeRunItemJSON(&it, []byte(meta), []byte(itemErr.String)); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list run items")
}

func (s *SQLiteStore) InsertAnalysisItems(ctx context.Context, items []model.AnalysisItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	rows, err := analysisRows(items, true)
	if err != nil {
		return 0, err
	}
	cfg := analysisInsert
	cfg.Placeholder = db.Question
	n, err := sqliteInsert(ctx, s.db, cfg, rows)
	return int(n), eris.Wrap(err, "sqlite: insert analysis items")
}

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqliteInsert runs the chunked multi-row insert for database/sql.
func sqliteInsert(ctx context.Context, ex sqliteExecer, cfg db.InsertConfig, rows [][]any) (int64, error) {
	var total int64
	for _, chunk := range db.Chunk(cfg, rows) {
		stmt, err := db.BuildInsert(cfg, len(chunk))
		if err != nil {
			return total, err
		}
		args, err := db.Flatten(cfg, chunk)
		if err != nil {
			return total, err
		}
		res, err := ex.ExecContext(ctx, stmt, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "sqlite: rows affected")
		}
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) SavePreview(ctx context.Context, p model.Preview) (*model.Preview, error) {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	result, err := jsonArg(p.Result, true)
	if err != nil {
		return nil, err
	}
	var runID any
	if p.RunID != "" {
		runID = p.RunID
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_preview_runs (id, project_id, run_id, result, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, runID, result, p.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert preview")
	}
	return &p, nil
}

func (s *SQLiteStore) LatestPreview(ctx context.Context, projectID string) (*model.Preview, error) {
	var p model.Preview
	var runID sql.NullString
	var result string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, run_id, result, created_at FROM ai_preview_runs
		WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`,
		projectID,
	).Scan(&p.ID, &p.ProjectID, &runID, &result, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest preview %s", projectID)
	}
	p.RunID = runID.String
	if err := json.Unmarshal([]byte(result), &p.Result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal preview")
	}
	return &p, nil
}

// helpers

func checkRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var snap string
	var started, finished sql.NullTime
	err := row.Scan(&r.ID, &r.ProjectID, &r.QuestionSetVersion, &r.Model, &r.PromptVersion, &r.Status,
		&r.Progress.Total, &r.Progress.Done, &r.Progress.Errors, &snap, &r.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		r.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if snap != "" {
		if err := json.Unmarshal([]byte(snap), &r.InputSnapshot); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal input_snapshot")
		}
	}
	return &r, nil
}
