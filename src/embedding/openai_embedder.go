package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/metrics"
	"www.github.com/Wanderer0074348/HybridRouter/src/utils"
)

// OpenAIEmbedder generates unit-length embeddings with the OpenAI embeddings API
// (or any compatible endpoint).
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int

	tokens atomic.Int64
}

func NewOpenAIEmbedder(cfg *config.SemanticCacheConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	model := openai.AdaEmbeddingV2
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dim,
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Usage reports the tokens embedded so far and their estimated cost in USD.
func (e *OpenAIEmbedder) Usage() (int64, float64) {
	n := e.tokens.Load()
	return n, utils.EmbeddingCost(string(e.model), int(n))
}

// Embed returns the normalized embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned from OpenAI")
	}

	tokens := resp.Usage.PromptTokens
	if tokens == 0 {
		tokens = utils.EstimateTokenCount(text)
	}
	e.tokens.Add(int64(tokens))
	metrics.ObserveEmbedding(string(e.model), tokens, utils.EmbeddingCost(string(e.model), tokens))

	vec := resp.Data[0].Embedding
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), e.dimension)
	}
	return Normalize(vec), nil
}

// Normalize scales v to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
