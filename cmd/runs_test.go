package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryarc/queryarc-api/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC)
	started := now.Add(time.Second)
	finished := started.Add(95 * time.Second)
	runs := []model.Run{
		{
			ID:         "abc12345",
			ProjectID:  "proj-1",
			Model:      "gpt-4o-mini",
			Status:     model.RunStatusSucceeded,
			Progress:   model.Progress{Total: 12, Done: 12, Errors: 1},
			CreatedAt:  now,
			StartedAt:  &started,
			FinishedAt: &finished,
		},
		{
			ID:        "def67890",
			ProjectID: "proj-2",
			Status:    model.RunStatusQueued,
			Progress:  model.Progress{Total: 6},
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "PROGRESS")
	assert.Contains(t, out, "abc12345")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "12/12")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "2026-04-01 10:30")
	assert.Contains(t, out, "queued")
	assert.Contains(t, out, "0/6")
}

func TestRunDuration_Unfinished(t *testing.T) {
	started := time.Now()
	assert.Equal(t, "-", runDuration(model.Run{}))
	assert.Equal(t, "-", runDuration(model.Run{StartedAt: &started}))
}

func TestFormatRunStats(t *testing.T) {
	sum := &model.RunSummary{
		Runs: 5,
		ByStatus: map[model.RunStatus]int{
			model.RunStatusSucceeded: 3,
			model.RunStatusFailed:    1,
			model.RunStatusCancelled: 1,
		},
		Items:       200,
		ItemErrors:  10,
		AvgDoneRate: 0.9,
	}

	var buf bytes.Buffer
	formatRunStats(&buf, sum, 24*time.Hour)

	out := buf.String()
	assert.Contains(t, out, "24h0m0s")
	assert.Contains(t, out, "succeeded:")
	assert.Contains(t, out, "10 (5.0%)")
	assert.Contains(t, out, "90.0%")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("cancelled")), bytes.Index(buf.Bytes(), []byte("succeeded")))
}

func TestFormatRunStats_NoItems(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &model.RunSummary{ByStatus: map[model.RunStatus]int{}}, time.Hour)
	require.Contains(t, buf.String(), "0 (0.0%)")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}
