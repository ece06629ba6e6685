package model

import "time"

// RunStatus is the lifecycle state of an answer-presence run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	return s == RunStatusQueued || s == RunStatusRunning || s.Terminal()
}

// EntityType distinguishes the brand from its competitors.
type EntityType string

const (
	EntityCustomer   EntityType = "customer"
	EntityCompetitor EntityType = "competitor"
)

// Project groups entities, question sets and runs for one owner.
type Project struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is the brand or a competitor probed by a run.
type Entity struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Type       EntityType `json:"type"`
	Name       string     `json:"name"`
	Website    string     `json:"website,omitempty"`
	BrandTerms []string   `json:"brand_terms"`
	CreatedAt  time.Time  `json:"created_at"`
}

// QuestionSet is a versioned, ordered list of questions.
type QuestionSet struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Version   int       `json:"version"`
	Questions []string  `json:"questions"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress holds the committed counters of a run.
type Progress struct {
	Total  int `json:"total"`
	Done   int `json:"done"`
	Errors int `json:"errors"`
}

// Run is one execution of entities × questions against a model.
type Run struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	QuestionSetVersion int            `json:"question_set_version"`
	Model              string         `json:"model"`
	PromptVersion      string         `json:"prompt_version"`
	Status             RunStatus      `json:"status"`
	Progress           Progress       `json:"progress"`
	InputSnapshot      map[string]any `json:"input_snapshot,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	FinishedAt         *time.Time     `json:"finished_at,omitempty"`
}

// TokenUsage is provider token accounting for one call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// RawMeta describes how a run item's answer was produced.
type RawMeta struct {
	Model     string     `json:"model"`
	Attempts  int        `json:"attempts"`
	LatencyMS int64      `json:"latency_ms"`
	Usage     TokenUsage `json:"usage"`
	CostUSD   float64    `json:"cost_usd"`
}

// ItemError is the terminal failure of one cell.
type ItemError struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// RunItem is one (entity, question) cell of a run.
type RunItem struct {
	ID            string     `json:"id"`
	RunID         string     `json:"run_id"`
	EntityID      string     `json:"entity_id"`
	QuestionIndex int        `json:"question_index"`
	QuestionText  string     `json:"question_text"`
	RawAnswer     *string    `json:"raw_answer"`
	RawMeta       RawMeta    `json:"raw_meta"`
	Error         *ItemError `json:"error"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Failed reports whether the cell ended without an answer.
func (i *RunItem) Failed() bool {
	return i.Error != nil
}

// AnalysisItem is a derived mention analysis of one run item.
type AnalysisItem struct {
	ID                   string    `json:"id"`
	RunItemID            string    `json:"run_item_id"`
	AnalyzerVersion      string    `json:"analyzer_version"`
	BrandMentioned       bool      `json:"brand_mentioned"`
	CompetitorsMentioned []string  `json:"competitors_mentioned"`
	StrengthScore        float64   `json:"strength_score"`
	EvidenceSnippet      string    `json:"evidence_snippet"`
	Summary              string    `json:"summary"`
	CreatedAt            time.Time `json:"created_at"`
}

// Preview is a stored presence summary for a project.
type Preview struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	RunID     string         `json:"run_id,omitempty"`
	Result    map[string]any `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	ProjectID string
	Status    RunStatus
	Limit     int
	Offset    int
}

// RunSummary aggregates runs and items over a window.
type RunSummary struct {
	Runs        int               `json:"runs"`
	ByStatus    map[RunStatus]int `json:"by_status"`
	Items       int               `json:"items"`
	ItemErrors  int               `json:"item_errors"`
	AvgDoneRate float64           `json:"avg_done_rate"`
}
