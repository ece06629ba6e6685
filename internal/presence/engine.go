package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/llm"
	"github.com/queryarc/queryarc-api/internal/metrics"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/prompt"
	"github.com/queryarc/queryarc-api/internal/resilience"
	"github.com/queryarc/queryarc-api/internal/store"
)

var (
	errRunCancelled = errors.New("run cancelled")
	errRunTimeout   = errors.New("run timed out")
)

// Engine executes presence runs against one completer and one store.
type Engine struct {
	store   store.Store
	llm     llm.Completer
	opts    Options
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(st store.Store, c llm.Completer, opts Options, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   st,
		llm:     c,
		opts:    opts.withDefaults(),
		metrics: m,
		active:  make(map[string]context.CancelCauseFunc),
	}
}

// task is one (entity, question) cell.
type task struct {
	entity   model.Entity
	index    int
	question string
	prompt   prompt.Pair
}

// Execute runs req to a terminal status and returns its summary. Per-cell
// LLM failures never fail the run; they become items with an error.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	lim := e.opts.limitsFor(req)
	specs, err := buildEntities(req, lim.entities)
	if err != nil {
		return nil, err
	}
	questions := cleanQuestions(req.Questions, lim.questions)

	// Storage writes outlive a disconnected caller so the run always ends
	// in a terminal state.
	storeCtx := context.WithoutCancel(ctx)

	owner := req.OwnerID
	if owner == "" {
		owner = e.opts.DefaultOwner
	}
	project, err := e.store.EnsureProject(storeCtx, owner, specs[0].name)
	if err != nil {
		return nil, eris.Wrap(err, "presence: ensure project")
	}
	entities := make([]model.Entity, 0, len(specs))
	for _, s := range specs {
		ent, err := e.store.UpsertEntity(storeCtx, model.Entity{
			ProjectID:  project.ID,
			Type:       s.typ,
			Name:       s.name,
			Website:    s.website,
			BrandTerms: s.terms,
		})
		if err != nil {
			return nil, eris.Wrap(err, "presence: upsert entity")
		}
		entities = append(entities, *ent)
	}
	qs, err := e.store.EnsureQuestionSet(storeCtx, project.ID, questions)
	if err != nil {
		return nil, eris.Wrap(err, "presence: ensure question set")
	}

	run, err := e.store.CreateRun(storeCtx, model.Run{
		ProjectID:          project.ID,
		QuestionSetVersion: qs.Version,
		Model:              e.llm.Model(),
		PromptVersion:      prompt.PresencePromptVersion,
		InputSnapshot:      snapshot(req, entities, questions, lim, e.opts.BatchSize),
	})
	if err != nil {
		return nil, eris.Wrap(err, "presence: create run")
	}

	tasks := expand(entities, questions, req.Topics)
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("project_id", project.ID))
	log.Info("presence: run starting",
		zap.Int("entities", len(entities)),
		zap.Int("questions", len(questions)),
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", lim.concurrency),
		zap.Int("max_retries", lim.retries),
	)

	if err := e.store.StartRun(storeCtx, run.ID, len(tasks)); err != nil {
		return nil, eris.Wrap(err, "presence: start run")
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.opts.RunTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, e.opts.RunTimeout, errRunTimeout)
		defer stop()
	}
	e.register(run.ID, cancel)
	defer e.unregister(run.ID)

	out, execErr := e.execute(runCtx, storeCtx, run.ID, tasks, lim, log)

	status := model.RunStatusFailed
	switch {
	case execErr != nil:
	case out.cancelled > 0:
		status = model.RunStatusCancelled
	case out.created > 0:
		status = model.RunStatusSucceeded
	}
	if err := e.store.FinishRun(storeCtx, run.ID, status); err != nil {
		return nil, eris.Wrap(err, "presence: finish run")
	}
	e.metrics.ObserveRun(string(status))
	log.Info("presence: run finished",
		zap.String("status", string(status)),
		zap.Int("created", out.created),
		zap.Int("errors", out.errors),
		zap.NamedError("cause", context.Cause(runCtx)),
	)
	if execErr != nil {
		return nil, execErr
	}

	if out.created > 0 {
		if err := e.analyzeRun(storeCtx, project.ID, run.ID, status, entities, len(questions)); err != nil {
			log.Warn("presence: post-run analysis failed", zap.Error(err))
		}
	}

	return &Result{
		RunID:           run.ID,
		ProjectID:       project.ID,
		EntitiesCount:   len(entities),
		QuestionsCount:  len(questions),
		RunItemsCreated: out.created,
		RunItemsErrors:  out.errors,
		Status:          status,
	}, nil
}

type outcome struct {
	created   int
	errors    int
	cancelled int
}

// execute fans tasks out to a bounded pool. Workers only send results; the
// calling goroutine is the single consumer that owns the buffer, the
// counters and every flush.
func (e *Engine) execute(runCtx, storeCtx context.Context, runID string, tasks []task, lim limits, log *zap.Logger) (outcome, error) {
	var out outcome
	if len(tasks) == 0 {
		return out, nil
	}

	results := make(chan model.RunItem, lim.concurrency)
	policy := e.opts.Policy.WithMaxAttempts(lim.retries)

	var g errgroup.Group
	g.SetLimit(lim.concurrency)
	go func() {
		for _, t := range tasks {
			g.Go(func() error {
				results <- e.runTask(runCtx, t, policy)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	progress := model.Progress{Total: len(tasks)}
	buf := make([]model.RunItem, 0, e.opts.BatchSize)
	var flushErr error

	flush := func() {
		if len(buf) == 0 || flushErr != nil {
			return
		}
		n, err := e.store.AppendRunItems(storeCtx, runID, buf, progress)
		if err != nil {
			// A failed flush rolls back as a whole and the insert skips
			// existing cells, so one immediate retry is safe.
			log.Warn("presence: flush failed, retrying once", zap.Error(err))
			n, err = e.store.AppendRunItems(storeCtx, runID, buf, progress)
		}
		if err != nil {
			flushErr = eris.Wrapf(err, "presence: flush %d items", len(buf))
			log.Error("presence: flush failed, draining workers", zap.Error(err))
			return
		}
		out.created += n
		e.metrics.ObserveFlush()
		log.Debug("presence: flushed",
			zap.Int("items", len(buf)),
			zap.Int("done", progress.Done),
			zap.Int("total", progress.Total),
		)
		buf = buf[:0]
	}

	for item := range results {
		if flushErr != nil {
			continue
		}
		progress.Done++
		if item.Error != nil {
			progress.Errors++
			out.errors++
			if item.Error.Type == string(apperr.KindCancelled) {
				out.cancelled++
			}
			e.metrics.ObserveRunItem(item.Error.Type)
		} else {
			e.metrics.ObserveRunItem("answered")
		}
		buf = append(buf, item)
		if len(buf) >= e.opts.BatchSize {
			flush()
		}
	}
	flush()
	return out, flushErr
}

// runTask produces exactly one item for t, retrying retryable LLM failures
// within the policy's attempt budget.
func (e *Engine) runTask(ctx context.Context, t task, policy resilience.Policy) model.RunItem {
	item := model.RunItem{
		EntityID:      t.entity.ID,
		QuestionIndex: t.index,
		QuestionText:  t.question,
		RawMeta:       model.RawMeta{Model: e.llm.Model()},
	}
	if err := context.Cause(ctx); ctx.Err() != nil {
		item.Error = &model.ItemError{Type: string(apperr.KindCancelled), Message: err.Error()}
		return item
	}

	attempts := 0
	start := time.Now()
	cfg := policy.RetryConfig(func(attempt int, err error) {
		e.metrics.ObserveRetry()
		resilience.RetryLogger("llm", "presence",
			zap.String("entity", t.entity.Name),
			zap.Int("question_index", t.index),
		)(attempt, err)
	})
	comp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context, attempt int) (*llm.Completion, error) {
		attempts = attempt
		return e.llm.Complete(ctx, llm.Request{System: t.prompt.System, User: t.prompt.User})
	})
	elapsed := time.Since(start)

	item.RawMeta.Attempts = attempts
	item.RawMeta.LatencyMS = elapsed.Milliseconds()
	if err != nil {
		kind := apperr.KindOf(err)
		if ctx.Err() != nil {
			kind = apperr.KindCancelled
		}
		item.Error = &model.ItemError{Type: string(kind), Message: err.Error(), Attempts: attempts}
		e.metrics.ObserveLLMCall("presence", string(kind), elapsed)
		return item
	}

	answer := comp.Text
	item.RawAnswer = &answer
	if comp.Model != "" {
		item.RawMeta.Model = comp.Model
	}
	item.RawMeta.Usage = comp.Usage
	item.RawMeta.CostUSD = comp.CostUSD
	e.metrics.ObserveLLMCall("presence", "ok", elapsed)
	return item
}

// expand builds the entity × question task list. question_index is the
// position of the question in questions for every entity.
func expand(entities []model.Entity, questions []string, topics string) []task {
	tasks := make([]task, 0, len(entities)*len(questions))
	for i, ent := range entities {
		others := make([]string, 0, len(entities)-1)
		for j, o := range entities {
			if j != i {
				others = append(others, o.Name)
			}
		}
		for qi, q := range questions {
			tasks = append(tasks, task{
				entity:   ent,
				index:    qi,
				question: q,
				prompt: prompt.BuildPresence(prompt.PresenceInput{
					EntityName:  ent.Name,
					Website:     ent.Website,
					Topics:      topics,
					Competitors: others,
					Question:    q,
				}),
			})
		}
	}
	return tasks
}

func snapshot(req Request, entities []model.Entity, questions []string, lim limits, batchSize int) map[string]any {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return map[string]any{
		"website":         req.Website,
		"topics":          req.Topics,
		"competitors":     req.Competitors,
		"questions":       questions,
		"entities":        names,
		"max_concurrency": lim.concurrency,
		"max_retries":     lim.retries,
		"batch_size":      batchSize,
	}
}

func (e *Engine) register(runID string, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[runID] = cancel
}

func (e *Engine) unregister(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, runID)
}

// Cancel stops an in-flight run on this instance. Cells that have not
// finished are materialised with a cancelled error and the run ends as
// cancelled.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if e.opts.CancelPolicy == CancelDisabled {
		return apperr.New(apperr.KindCancelForbidden, "run cancellation is disabled")
	}

	e.mu.Lock()
	cancel, ok := e.active[runID]
	e.mu.Unlock()
	if ok {
		cancel(errRunCancelled)
		zap.L().Info("presence: run cancel requested", zap.String("run_id", runID))
		return nil
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return apperr.New(apperr.KindConflict, "run already "+string(run.Status))
	}
	return apperr.New(apperr.KindConflict, "run is not active on this instance")
}

// Active returns the number of runs in flight on this instance.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
