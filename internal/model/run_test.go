package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusQueued, false},
		{RunStatusRunning, false},
		{RunStatusSucceeded, true},
		{RunStatusFailed, true},
		{RunStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, RunStatus("paused").Valid())
}

func TestRunItemJSONKeepsNullAnswer(t *testing.T) {
	t.Parallel()

	item := RunItem{
		ID:            "i1",
		QuestionIndex: 2,
		Error:         &ItemError{Type: "llm_transient", Message: "timeout", Attempts: 3},
	}
	b, err := json.Marshal(item)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "raw_answer")
	assert.Nil(t, m["raw_answer"])
	assert.True(t, item.Failed())
	assert.Equal(t, float64(3), m["error"].(map[string]any)["attempts"])
}

func TestReportClone(t *testing.T) {
	t.Parallel()

	orig := Report{
		"score_matrix": map[string]any{"final_score": 10},
		"verdict":      "x",
	}
	cp := orig.Clone()
	cp.Section("score_matrix")["final_score"] = 99
	cp["verdict"] = "y"

	assert.Equal(t, 10, orig.Section("score_matrix")["final_score"])
	assert.Equal(t, "x", orig["verdict"])
	assert.Nil(t, orig.Section("verdict"))
}
