package cost

import (
	"strings"

	"github.com/queryarc/queryarc-api/internal/config"
)

// Rates holds per-model token pricing.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for model usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from the pricing section.
func FromConfig(cfg config.PricingConfig) *Calculator {
	rates := Rates{Models: make(map[string]ModelRate, len(cfg.Models))}
	for model, p := range cfg.Models {
		rates.Models[strings.ToLower(model)] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return NewCalculator(rates)
}

// Tokens computes the cost of one call. Unknown models cost 0.
func (c *Calculator) Tokens(model string, input, output int64) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rate(model)
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	return inCost + outCost
}

// rate looks up an exact model name first, then the longest configured
// prefix, so dated snapshots like gpt-4o-mini-2024-07-18 price as their base.
func (c *Calculator) rate(model string) (ModelRate, bool) {
	model = strings.ToLower(model)
	if r, ok := c.rates.Models[model]; ok {
		return r, true
	}
	var best string
	for name := range c.rates.Models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Models[best], true
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gpt-4o-mini":               {Input: 0.15, Output: 0.60},
			"gpt-4o":                    {Input: 2.50, Output: 10.00},
			"claude-haiku-4-5-20251001": {Input: 1.00, Output: 5.00},
		},
	}
}
