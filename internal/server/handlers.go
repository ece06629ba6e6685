package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/contract"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/presence"
)

const (
	defaultRunsLimit    = 50
	maxRunsLimit        = 200
	defaultSummaryHours = 24
	maxSummaryHours     = 24 * 90
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDBHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.store.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"db": "error", "detail": err.Error()})
		return
	}
	tables := h.Tables
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"db":           "ok",
		"select_1":     1,
		"database":     h.Database,
		"tables_found": tables,
		"missing":      h.Missing,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.analyzer.Analyze(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleRun executes a run to completion. The run is detached from the
// client connection; only the cancel endpoint or the run timeout stop it.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req presence.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.runner.Execute(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.RunFilter{
		ProjectID: q.Get("project_id"),
		Status:    model.RunStatus(q.Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, r, apperr.New(apperr.KindInvalidRequest, "unknown status "+strconv.Quote(string(f.Status))))
		return
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), defaultRunsLimit, 1, maxRunsLimit); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0, 0, 1<<30); err != nil {
		writeError(w, r, err)
		return
	}

	runs, err := s.store.ListRuns(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": f.Limit, "offset": f.Offset})
}

func (s *Server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("hours"), defaultSummaryHours, 1, maxSummaryHours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	sum, err := s.store.SummarizeRuns(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since.UTC(), "hours": hours, "summary": sum})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.store.ListRunItems(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.RunItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "items": items})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runner.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

func (s *Server) handleLatestPreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.LatestPreview(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p == nil {
		writeError(w, r, apperr.New(apperr.KindNotFound, "no preview for project "+id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleContract(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, contract.Contract())
}

func (s *Server) handleTestContract(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := contract.Decode(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract.Echo(req, s.now()))
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, apperr.New(apperr.KindInvalidRequest,
			"query parameter must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
	}
	return n, nil
}
