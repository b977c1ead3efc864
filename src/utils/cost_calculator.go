package utils

import (
	"strings"
)

// Price is USD per 1M tokens.
type Price struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static price table keyed by provider then model (as of 2025). Vendor
// pricing drifts; this only needs to be good enough to compare routes.
var priceTable = map[string]map[string]Price{
	"openai": {
		"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
		"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
		"gpt-4":         {InputPer1M: 30.00, OutputPer1M: 60.00},
		"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},
	},
	"anthropic": {
		"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
		"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	},
	"groq": {
		"llama-3.1-8b-instant":    {InputPer1M: 0.05, OutputPer1M: 0.08},
		"mixtral-8x7b-32768":      {InputPer1M: 0.24, OutputPer1M: 0.24},
		"llama-3.3-70b-versatile": {InputPer1M: 0.59, OutputPer1M: 0.79},
	},
}

const (
	// FallbackRequestCost is charged for a (provider, model) missing from the table.
	FallbackRequestCost = 0.001

	// DefaultOutputTokens is assumed when estimating a request before it runs.
	DefaultOutputTokens = 256

	// FallbackEmbeddingPer1M prices embedding models missing from the table.
	FallbackEmbeddingPer1M = 0.10
)

// USD per 1M input tokens for embedding models.
var embeddingPriceTable = map[string]float64{
	"text-embedding-ada-002": 0.10,
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
}

// LookupPrice returns the table price for a provider/model pair.
func LookupPrice(provider, model string) (Price, bool) {
	models, ok := priceTable[strings.ToLower(provider)]
	if !ok {
		return Price{}, false
	}
	p, ok := models[strings.ToLower(model)]
	return p, ok
}

// EstimateTokenCount estimates token count from text (rough approximation)
// More accurate: ~1 token per 4 characters for English
func EstimateTokenCount(text string) int {
	// Remove extra whitespace
	text = strings.TrimSpace(text)

	// Rough estimate: 1 token ≈ 4 characters
	charCount := len(text)
	tokenCount := charCount / 4

	// Add some buffer for special tokens
	if tokenCount < 10 {
		tokenCount = 10
	}

	return tokenCount
}

// CalculateCost prices a completed call. Unknown pairs cost FallbackRequestCost.
func CalculateCost(provider, model string, inputTokens, outputTokens int) float64 {
	p, ok := LookupPrice(provider, model)
	if !ok {
		return FallbackRequestCost
	}
	return float64(inputTokens)*p.InputPer1M/1000000 + float64(outputTokens)*p.OutputPer1M/1000000
}

// EstimateRequestCost prices a prompt before execution using
// DefaultOutputTokens for the completion.
func EstimateRequestCost(provider, model, prompt string) float64 {
	return CalculateCost(provider, model, EstimateTokenCount(prompt), DefaultOutputTokens)
}

// EmbeddingCost prices tokens embedded with model.
func EmbeddingCost(model string, tokens int) float64 {
	per1M, ok := embeddingPriceTable[strings.ToLower(model)]
	if !ok {
		per1M = FallbackEmbeddingPer1M
	}
	return float64(tokens) * per1M / 1000000
}
