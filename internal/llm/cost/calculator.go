// Package cost estimates the USD cost of a generation from its token usage.
package cost

import (
	"sort"
	"strings"
	"sync"
)

// Pricing is the list price of a model in USD per million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Calculator looks up prices by model name. A model without an exact entry
// uses the longest matching prefix, so dated snapshots share a price.
type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
	keys    []string // longest first
}

// NewCalculator creates a calculator with the built-in price list.
func NewCalculator() *Calculator {
	c := &Calculator{pricing: make(map[string]Pricing)}
	for model, p := range defaultPricing {
		c.pricing[model] = p
	}
	c.sortKeys()
	return c
}

// Prices as of early 2025.
var defaultPricing = map[string]Pricing{
	"gpt-4o":            {InputPer1M: 2.5, OutputPer1M: 10},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.6},
	"gpt-4.1":           {InputPer1M: 2, OutputPer1M: 8},
	"gpt-4.1-mini":      {InputPer1M: 0.4, OutputPer1M: 1.6},
	"o3-mini":           {InputPer1M: 1.1, OutputPer1M: 4.4},
	"claude-3-5-sonnet": {InputPer1M: 3, OutputPer1M: 15},
	"claude-3-7-sonnet": {InputPer1M: 3, OutputPer1M: 15},
	"claude-3-5-haiku":  {InputPer1M: 0.8, OutputPer1M: 4},
	"claude-3-opus":     {InputPer1M: 15, OutputPer1M: 75},
	"gemini-2.0-flash":  {InputPer1M: 0.1, OutputPer1M: 0.4},
	"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5},
	"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.3},
	"grok-2":            {InputPer1M: 2, OutputPer1M: 10},
	"grok-3":            {InputPer1M: 3, OutputPer1M: 15},

	// Bedrock model IDs
	"anthropic.claude-3-5-sonnet": {InputPer1M: 3, OutputPer1M: 15},
	"anthropic.claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
}

// Set adds or replaces the price of model.
func (c *Calculator) Set(model string, p Pricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[model] = p
	c.sortKeys()
}

func (c *Calculator) sortKeys() {
	c.keys = c.keys[:0]
	for k := range c.pricing {
		c.keys = append(c.keys, k)
	}
	sort.Slice(c.keys, func(i, j int) bool {
		if len(c.keys[i]) != len(c.keys[j]) {
			return len(c.keys[i]) > len(c.keys[j])
		}
		return c.keys[i] < c.keys[j]
	})
}

// Lookup returns the price for model.
func (c *Calculator) Lookup(model string) (Pricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.pricing[model]; ok {
		return p, true
	}
	for _, k := range c.keys {
		if strings.HasPrefix(model, k) {
			return c.pricing[k], true
		}
	}
	return Pricing{}, false
}

// Estimate returns the cost of one call, or false for an unpriced model.
func (c *Calculator) Estimate(model string, promptTokens, completionTokens int) (float64, bool) {
	p, ok := c.Lookup(model)
	if !ok {
		return 0, false
	}
	return float64(promptTokens)/1e6*p.InputPer1M + float64(completionTokens)/1e6*p.OutputPer1M, true
}

// Default is the shared calculator used by instrumented providers.
var Default = NewCalculator()
