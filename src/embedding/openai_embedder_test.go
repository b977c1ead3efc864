package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
)

func fakeEmbeddingServer(t *testing.T, vec []float32) *httptest.Server {
	return fakeEmbeddingServerWithUsage(t, vec, 0)
}

func fakeEmbeddingServerWithUsage(t *testing.T, vec []float32, promptTokens int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-ada-002",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": vec},
			},
			"usage": map[string]int{"prompt_tokens": promptTokens, "total_tokens": promptTokens},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := fakeEmbeddingServer(t, []float32{3, 4, 0})

	e, err := NewOpenAIEmbedder(&config.SemanticCacheConfig{
		APIKey:    "test-key",
		Endpoint:  srv.URL,
		Dimension: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimension())

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
	assert.InDelta(t, 0.0, vec[2], 1e-6)
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, []float32{1, 0})

	e, err := NewOpenAIEmbedder(&config.SemanticCacheConfig{APIKey: "k", Endpoint: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestOpenAIEmbedder_Validation(t *testing.T) {
	_, err := NewOpenAIEmbedder(&config.SemanticCacheConfig{})
	assert.Error(t, err)

	e, err := NewOpenAIEmbedder(&config.SemanticCacheConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimension())

	_, err = e.Embed(context.Background(), "")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{0, 2, 0})
	assert.Equal(t, []float32{0, 1, 0}, v)

	zero := []float32{0, 0}
	assert.Equal(t, zero, Normalize(zero))
}

func TestOpenAIEmbedder_Usage(t *testing.T) {
	srv := fakeEmbeddingServerWithUsage(t, []float32{1, 0, 0}, 2000)

	e, err := NewOpenAIEmbedder(&config.SemanticCacheConfig{APIKey: "k", Endpoint: srv.URL, Dimension: 3})
	require.NoError(t, err)

	tokens, cost := e.Usage()
	assert.Zero(t, tokens)
	assert.Zero(t, cost)

	_, err = e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "world")
	require.NoError(t, err)

	tokens, cost = e.Usage()
	assert.Equal(t, int64(4000), tokens)
	assert.InDelta(t, 0.0004, cost, 1e-12)
}

func TestOpenAIEmbedder_UsageEstimatedWithoutReport(t *testing.T) {
	srv := fakeEmbeddingServer(t, []float32{1, 0, 0})

	e, err := NewOpenAIEmbedder(&config.SemanticCacheConfig{APIKey: "k", Endpoint: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.NoError(t, err)

	tokens, _ := e.Usage()
	assert.Equal(t, int64(10), tokens)
}
