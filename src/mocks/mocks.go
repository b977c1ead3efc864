package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

// MockProvider implements models.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Execute(ctx context.Context, provider, model, prompt string, maxTokens int) (*models.ProviderResult, error) {
	args := m.Called(ctx, provider, model, prompt, maxTokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProviderResult), args.Error(1)
}

// MockEmbedder implements models.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) Dimension() int {
	args := m.Called()
	return args.Int(0)
}

// MockStrategy implements router.Strategy
type MockStrategy struct {
	mock.Mock
}

func (m *MockStrategy) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockStrategy) Route(ctx context.Context, rc *models.RoutingContext) (*models.RoutingDecision, error) {
	args := m.Called(ctx, rc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RoutingDecision), args.Error(1)
}

// MockMetricsSink implements models.MetricsSink
type MockMetricsSink struct {
	mock.Mock
}

func (m *MockMetricsSink) Track(prompt string, decision *models.RoutingDecision, autoRoute bool, requestID string) {
	m.Called(prompt, decision, autoRoute, requestID)
}
