package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/config"
	"github.com/queryarc/queryarc-api/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackHours: 24}
	checker := NewChecker(NewCollector(&mockSummarizer{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	st := &mockSummarizer{}
	checker := NewChecker(NewCollector(st), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, checker.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
	assert.Equal(t, 1, st.calls, "Run checks once before the first tick")
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailedRunsThreshold: 1, LookbackHours: 24}
	st := &mockSummarizer{sum: &model.RunSummary{Runs: 2, ByStatus: map[model.RunStatus]int{model.RunStatusFailed: 2}}}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, 1, st.calls)
	assert.Equal(t, int32(1), hits.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	st := &mockSummarizer{err: assert.AnError}
	cfg := config.MonitoringConfig{}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)
	checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, 1, st.calls)
}

func TestChecker_CooldownSuppressesRepeats(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailedRunsThreshold: 1, LookbackHours: 24}
	st := &mockSummarizer{sum: &model.RunSummary{Runs: 1, ByStatus: map[model.RunStatus]int{model.RunStatusFailed: 1}}}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }

	checker.check(context.Background(), zap.NewNop())
	checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(alertCooldown)
	checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, int32(2), hits.Load())
}
