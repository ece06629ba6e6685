package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	oaoption "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/cost"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/resilience"
	"github.com/queryarc/queryarc-api/pkg/openai"
)

type fakeProvider struct {
	calls int
	last  Request
	fn    func(ctx context.Context, req Request) (*Completion, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, modelName string, req Request) (*Completion, error) {
	f.calls++
	f.last = req
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &Completion{Text: "{}", Model: modelName, Usage: model.TokenUsage{InputTokens: 1000, OutputTokens: 500}}, nil
}

func TestClient_AppliesDefaultsAndCost(t *testing.T) {
	p := &fakeProvider{}
	c := NewClient(p, Options{
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   2048,
		Cost:        cost.NewCalculator(cost.DefaultRates()),
	})

	comp, err := c.Complete(context.Background(), Request{System: "s", User: "u", JSON: true})
	require.NoError(t, err)
	require.NotNil(t, p.last.Temperature)
	assert.InDelta(t, 0.2, *p.last.Temperature, 1e-9)
	assert.Equal(t, int64(2048), p.last.MaxTokens)
	assert.True(t, p.last.JSON)
	assert.Equal(t, "gpt-4o-mini", c.Model())
	assert.Greater(t, comp.CostUSD, 0.0)
}

func TestClient_ExplicitTemperatureKept(t *testing.T) {
	p := &fakeProvider{}
	c := NewClient(p, Options{Model: "m", Temperature: 0.2})
	zero := 0.0
	_, err := c.Complete(context.Background(), Request{User: "u", Temperature: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0.0, *p.last.Temperature)
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	p := &fakeProvider{fn: func(ctx context.Context, _ Request) (*Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewClient(p, Options{Model: "m", Timeout: 20 * time.Millisecond})

	_, err := c.Complete(context.Background(), Request{User: "u"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindLLMTransient, apperr.KindOf(err))
	assert.True(t, resilience.Retryable(err))
}

func TestClient_CircuitOpensOnTransientFailures(t *testing.T) {
	p := &fakeProvider{fn: func(context.Context, Request) (*Completion, error) {
		return nil, apperr.New(apperr.KindLLMTransient, "503")
	}}
	c := NewClient(p, Options{Model: "m", Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute}})

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Request{User: "u"})
		require.Error(t, err)
	}
	_, err := c.Complete(context.Background(), Request{User: "u"})
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, 2, p.calls)
}

func TestClient_CancelledContext(t *testing.T) {
	c := NewClient(&fakeProvider{}, Options{Model: "m", RPM: 1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Complete(ctx, Request{User: "u"})
	require.NoError(t, err)

	cancel()
	_, err = c.Complete(ctx, Request{User: "u"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindCancelled, apperr.KindOf(err))
	assert.False(t, resilience.Retryable(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   apperr.Kind
	}{
		{"429", errors.New("too many"), 429, apperr.KindLLMRateLimited},
		{"503", errors.New("overloaded"), 503, apperr.KindLLMTransient},
		{"408", errors.New("timeout"), 408, apperr.KindLLMTransient},
		{"401", errors.New("bad key"), 401, apperr.KindLLMFatal},
		{"deadline without status", context.DeadlineExceeded, 0, apperr.KindLLMTransient},
		{"canceled", context.Canceled, 0, apperr.KindCancelled},
		{"plain", errors.New("boom"), 0, apperr.KindLLMFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(classify(tt.err, tt.status, "test")))
		})
	}
}

func TestOpenAIProvider_RateLimitMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProviderWith(openai.NewClient("test-key", oaoption.WithBaseURL(srv.URL)))
	_, err := p.Complete(context.Background(), "gpt-4o-mini", Request{User: "u", JSON: true})
	require.Error(t, err)
	assert.Equal(t, apperr.KindLLMRateLimited, apperr.KindOf(err))
}

func TestOpenAIProvider_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"ok\": true}"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProviderWith(openai.NewClient("test-key", oaoption.WithBaseURL(srv.URL)))
	comp, err := p.Complete(context.Background(), "gpt-4o-mini", Request{User: "u", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, comp.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", comp.Model)
	assert.Equal(t, int64(12), comp.Usage.InputTokens)
}
