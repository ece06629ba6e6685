package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/metrics"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/presence"
	"github.com/queryarc/queryarc-api/internal/store"
)

type fakeAnalyzer struct {
	got string
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, url string) (model.Report, error) {
	f.got = url
	if f.err != nil {
		return nil, f.err
	}
	return model.Report{"score_matrix": map[string]any{"final_score": 80}}, nil
}

type fakeRunner struct {
	req       presence.Request
	ctxErr    error
	err       error
	cancelErr error
	cancelled string
}

func (f *fakeRunner) Execute(ctx context.Context, req presence.Request) (*presence.Result, error) {
	f.req = req
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return &presence.Result{RunID: "run-1", ProjectID: "p-1", EntitiesCount: 2, QuestionsCount: 3, RunItemsCreated: 6, Status: model.RunStatusSucceeded}, nil
}

func (f *fakeRunner) Cancel(_ context.Context, runID string) error {
	f.cancelled = runID
	return f.cancelErr
}

type fixture struct {
	srv      *Server
	handler  http.Handler
	store    *store.SQLiteStore
	analyzer *fakeAnalyzer
	runner   *fakeRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	f := &fixture{store: st, analyzer: &fakeAnalyzer{}, runner: &fakeRunner{}}
	f.srv = New(Deps{
		Store:    st,
		Analyzer: f.analyzer,
		Runner:   f.runner,
		Metrics:  metrics.New(),
		Origins:  []string{"https://tools.queryarc.com"},
	})
	f.srv.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return e["type"].(string)
}

// seedRun stores a finished run with one answered and one failed item.
func (f *fixture) seedRun(t *testing.T) (*model.Project, *model.Run) {
	t.Helper()
	ctx := context.Background()
	p, err := f.store.EnsureProject(ctx, "anonymous", "acme.com")
	require.NoError(t, err)
	ent, err := f.store.UpsertEntity(ctx, model.Entity{ProjectID: p.ID, Type: model.EntityCustomer, Name: "acme.com", BrandTerms: []string{"acme"}})
	require.NoError(t, err)
	run, err := f.store.CreateRun(ctx, model.Run{ProjectID: p.ID, QuestionSetVersion: 1, Model: "gpt-4o-mini", PromptVersion: "presence-v1"})
	require.NoError(t, err)
	require.NoError(t, f.store.StartRun(ctx, run.ID, 2))
	answer := "Acme is great"
	_, err = f.store.AppendRunItems(ctx, run.ID, []model.RunItem{
		{EntityID: ent.ID, QuestionIndex: 0, QuestionText: "q0", RawAnswer: &answer, RawMeta: model.RawMeta{Model: "gpt-4o-mini", Attempts: 1}},
		{EntityID: ent.ID, QuestionIndex: 1, QuestionText: "q1", Error: &model.ItemError{Type: "llm_transient", Message: "timeout", Attempts: 3}},
	}, model.Progress{Total: 2, Done: 2, Errors: 1})
	require.NoError(t, err)
	require.NoError(t, f.store.FinishRun(ctx, run.ID, model.RunStatusSucceeded))
	return p, run
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestDBHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/db-health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["db"])
	assert.Len(t, body["tables_found"], len(store.CoreTables))
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/analyze", "/api/tools/llm-seo/analyze", "/api/tools/arc-rank-checker/analyze"} {
		rec := f.do(t, http.MethodPost, path, `{"url":"example.com"}`)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "example.com", f.analyzer.got)
		assert.Contains(t, decode(t, rec), "score_matrix")
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		typ    string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid_request"},
		{"schema", `{"url":"x.com"}`, apperr.Schema("missing top-level keys [faq_block]", []string{"faq_block"}), http.StatusUnprocessableEntity, "schema_error"},
		{"rate limited", `{"url":"x.com"}`, apperr.New(apperr.KindLLMRateLimited, "429"), http.StatusTooManyRequests, "llm_rate_limited"},
		{"unclassified", `{"url":"x.com"}`, assert.AnError, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.analyzer.err = tt.err
			rec := f.do(t, http.MethodPost, "/analyze", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.typ, errorType(t, rec))
		})
	}
}

func TestAnalyze_SchemaErrorListsMissing(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = apperr.Schema("missing", []string{"faq_block", "raw_data"})
	rec := f.do(t, http.MethodPost, "/analyze", `{"url":"x.com"}`)
	e := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, []any{"faq_block", "raw_data"}, e["missing"])
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/run", "/api/tools/ai-answer-presence/run"} {
		rec := f.do(t, http.MethodPost, path, `{"website":"acme.com","topics":"crm","competitors":["globex.com"],"questions":["a","b","c"]}`)
		require.Equal(t, http.StatusOK, rec.Code, path)
		body := decode(t, rec)
		assert.Equal(t, "run-1", body["run_id"])
		assert.Equal(t, "succeeded", body["status"])
		assert.Equal(t, float64(6), body["run_items_created"])
		assert.Equal(t, []string{"globex.com"}, f.runner.req.Competitors)
		assert.NoError(t, f.runner.ctxErr)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	f.runner.err = apperr.New(apperr.KindInvalidRequest, "website is required and must be a valid URL")
	rec := f.do(t, http.MethodPost, "/run", `{"questions":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorType(t, rec))
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	p, run := f.seedRun(t)

	rec := f.do(t, http.MethodGet, "/runs?project_id="+p.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode(t, rec)["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].(map[string]any)["id"])

	rec = f.do(t, http.MethodGet, "/runs?status=running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["runs"])

	rec = f.do(t, http.MethodGet, "/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "succeeded", got["status"])
	assert.Equal(t, map[string]any{"total": float64(2), "done": float64(2), "errors": float64(1)}, got["progress"])

	rec = f.do(t, http.MethodGet, "/runs/"+run.ID+"/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 2)

	rec = f.do(t, http.MethodGet, "/runs/summary?hours=48", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(48), decode(t, rec)["hours"])
}

func TestRuns_BadParams(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/runs?status=exploded", "/runs?limit=0", "/runs?limit=abc", "/runs?offset=-1", "/runs/summary?hours=0"} {
		rec := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestRuns_NotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/runs/missing", "/runs/missing/items"} {
		rec := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "not_found", errorType(t, rec))
	}
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/runs/run-9/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-9", f.runner.cancelled)

	f.runner.cancelErr = apperr.New(apperr.KindCancelForbidden, "run cancellation is disabled")
	rec = f.do(t, http.MethodPost, "/runs/run-9/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cancel_forbidden", errorType(t, rec))
}

func TestLatestPreview(t *testing.T) {
	f := newFixture(t)
	p, run := f.seedRun(t)

	rec := f.do(t, http.MethodGet, "/project/"+p.ID+"/latest-preview", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := f.store.SavePreview(context.Background(), model.Preview{ProjectID: p.ID, RunID: run.ID, Result: map[string]any{"run_id": run.ID}})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/project/"+p.ID+"/latest-preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, run.ID, decode(t, rec)["run_id"])
}

func TestContractEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/tools/ai-answer-presence/contract", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "0.1.0", body["version"])
	assert.Contains(t, body, "request")
	assert.Contains(t, body, "response")

	rec = f.do(t, http.MethodPost, "/api/tools/ai-answer-presence/test-contract",
		`{"project_name":"QueryArc","core_topic":"LLM SEO","brand_terms":["QueryArc"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "2026-04-01T12:00:00Z", body["received_at"])
	assert.Equal(t, "QueryArc", body["echo"].(map[string]any)["project_name"])

	rec = f.do(t, http.MethodPost, "/api/tools/ai-answer-presence/test-contract", `{"project_name":"QueryArc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://tools.queryarc.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://tools.queryarc.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
