// Package llm implements the model provider clients used by the turn
// pipeline: an OpenAI-compatible client (OpenAI, Azure, Ollama,
// proxies) and an Anthropic client, both with streaming support and
// token/cost accounting.
package llm

import (
	"fmt"
	"time"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/pkg/contracts"
)

// New builds the LLMService selected by configuration.
func New(cfg config.LLMConfig) (contracts.LLMService, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Endpoint, cfg.Model, timeout), nil
	case "openai", "":
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.Model, timeout), nil
	default:
		// Any other value is treated as an OpenAI-compatible endpoint.
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("llm provider %q requires an explicit endpoint", cfg.Provider)
		}
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.Model, timeout), nil
	}
}

// ── Cost Accounting ──────────────────────────────────────────

// defaultCosts holds USD cost per 1K tokens for known models.
var defaultCosts = map[string]map[string]float64{
	"gpt-4o":                    {"input": 0.0025, "output": 0.01},
	"gpt-4o-mini":               {"input": 0.00015, "output": 0.0006},
	"gpt-4-turbo":               {"input": 0.01, "output": 0.03},
	"claude-sonnet-4-20250514":  {"input": 0.003, "output": 0.015},
	"claude-3-5-haiku-20241022": {"input": 0.001, "output": 0.005},
	"claude-opus-4-20250514":    {"input": 0.015, "output": 0.075},
}

// estimateCost computes the estimated USD cost for a completion.
// Unknown models get a generic fallback rate so cost is never zero for
// a non-empty completion.
func estimateCost(model string, inputTokens, outputTokens int64) float64 {
	costs, ok := defaultCosts[model]
	if !ok {
		costs = map[string]float64{"input": 0.001, "output": 0.001}
	}
	return float64(inputTokens)/1000*costs["input"] + float64(outputTokens)/1000*costs["output"]
}
