// Package llm is the completion adapter shared by single-shot analysis and
// presence runs. It owns provider selection, pacing, timeouts, the circuit
// breaker and error classification; retries stay with the caller.
package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/config"
	"github.com/queryarc/queryarc-api/internal/cost"
	"github.com/queryarc/queryarc-api/internal/model"
	"github.com/queryarc/queryarc-api/internal/resilience"
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	JSON        bool // ask for a JSON object when the provider supports it
	Temperature *float64
	MaxTokens   int64
}

// Completion is the raw model output plus accounting.
type Completion struct {
	Text    string
	Model   string
	Usage   model.TokenUsage
	CostUSD float64
}

// Completer is the call boundary used by the pipeline and the presence engine.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Model() string
}

// Provider sends one request to a vendor API. Errors are returned as
// classified *apperr.Error values.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, req Request) (*Completion, error)
}

// Options tunes a Client.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	RPM         int
	Burst       int
	Breaker     resilience.CircuitBreakerConfig
	Cost        *cost.Calculator
}

// Client implements Completer over a Provider.
type Client struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
}

// NewClient wraps p with pacing, a per-call timeout and a circuit breaker.
func NewClient(p Provider, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RPM > 0 {
		limit = rate.Limit(float64(opts.RPM) / 60.0)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	breakerCfg := opts.Breaker
	onChange := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("llm: circuit state changed",
			zap.String("provider", p.Name()),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if onChange != nil {
			onChange(from, to)
		}
	}

	return &Client{
		provider: p,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  resilience.NewCircuitBreaker(breakerCfg),
	}
}

// New builds the configured provider and wraps it.
func New(cfg *config.Config) (*Client, error) {
	var p Provider
	switch cfg.LLM.Provider {
	case "openai", "":
		p = NewOpenAIProvider(cfg.LLM.OpenAIKey, cfg.LLM.OpenAIBaseURL)
	case "anthropic":
		p = NewAnthropicProvider(cfg.LLM.AnthropicKey)
	default:
		return nil, apperr.New(apperr.KindInvalidRequest, "unknown llm provider: "+cfg.LLM.Provider)
	}
	return NewClient(p, Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		RPM:         cfg.LLM.RPM,
		Burst:       cfg.LLM.Burst,
		Breaker:     resilience.BreakerFromConfig(cfg.Circuit),
		Cost:        cost.FromConfig(cfg.Pricing),
	}), nil
}

// Model is the configured model name.
func (c *Client) Model() string { return c.opts.Model }

// Complete waits for a rate slot, then calls the provider under the
// per-call timeout and the circuit breaker.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if req.Temperature == nil {
		t := c.opts.Temperature
		req.Temperature = &t
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.opts.MaxTokens
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, contextError(ctx, err)
	}

	comp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*Completion, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
		comp, err := c.provider.Complete(callCtx, c.opts.Model, req)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.KindLLMTransient, err, "llm call timed out")
		}
		return comp, err
	})
	if err != nil {
		return nil, err
	}

	comp.CostUSD = c.opts.Cost.Tokens(comp.Model, comp.Usage.InputTokens, comp.Usage.OutputTokens)
	return comp, nil
}

// classify maps a provider failure onto the error taxonomy using the HTTP
// status when there is one.
func classify(err error, status int, op string) error {
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindCancelled, err, op+" cancelled")
	}
	class := resilience.ClassifyStatus(status)
	if status == 0 {
		class = resilience.Classify(err)
	}
	switch class {
	case resilience.ClassRateLimited:
		return apperr.Wrap(apperr.KindLLMRateLimited, err, "llm rate limited or quota exceeded")
	case resilience.ClassTransient:
		return apperr.Wrap(apperr.KindLLMTransient, err, "llm temporarily unavailable")
	default:
		return apperr.Wrap(apperr.KindLLMFatal, err, "llm error")
	}
}

func contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperr.Wrap(apperr.KindCancelled, err, "llm call cancelled")
	}
	return apperr.Wrap(apperr.KindLLMTransient, err, "llm rate limiter wait")
}
