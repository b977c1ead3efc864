package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"www.github.com/Wanderer0074348/HybridRouter/src/config"
	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/metrics"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/utils"
)

const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"

	DefaultMaxConcurrency = 16
	DefaultMaxTokens      = 1024
)

var ErrUnknownProvider = errors.New("unknown provider")

// ModelFactory builds a langchaingo client for one provider model.
type ModelFactory func(cfg config.ProviderConfig, model string) (llms.Model, error)

// Executor runs prompts against the configured providers. Clients are built
// on first use per (provider, model) and shared afterwards.
type Executor struct {
	providers  map[string]config.ProviderConfig
	newModel   ModelFactory
	workerPool chan struct{}
	logger     *logrus.Logger

	mu      sync.RWMutex
	clients map[string]llms.Model
}

type Options struct {
	MaxConcurrency int
	// Factory overrides client construction; nil uses NewModel.
	Factory ModelFactory
	Logger  *logrus.Logger
}

func NewExecutor(cfg *config.RouterConfig, opts Options) *Executor {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Factory == nil {
		opts.Factory = NewModel
	}
	providers := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = p
	}
	return &Executor{
		providers:  providers,
		newModel:   opts.Factory,
		workerPool: make(chan struct{}, opts.MaxConcurrency),
		logger:     logging.OrDiscard(opts.Logger),
		clients:    make(map[string]llms.Model),
	}
}

// NewModel builds an OpenAI-compatible or Anthropic client from cfg.
func NewModel(cfg config.ProviderConfig, model string) (llms.Model, error) {
	switch cfg.Kind {
	case KindAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(model),
		}
		if cfg.Endpoint != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return llm, nil
	case KindOpenAI, "":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(model),
		}
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
}

func (e *Executor) client(provider, model string) (llms.Model, config.ProviderConfig, error) {
	cfg, ok := e.providers[provider]
	if !ok {
		return nil, cfg, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	key := provider + "/" + model

	e.mu.RLock()
	llm, ok := e.clients[key]
	e.mu.RUnlock()
	if ok {
		return llm, cfg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if llm, ok := e.clients[key]; ok {
		return llm, cfg, nil
	}
	llm, err := e.newModel(cfg, model)
	if err != nil {
		return nil, cfg, err
	}
	e.clients[key] = llm
	return llm, cfg, nil
}

// Execute implements models.Provider. Token counts come from the provider's
// usage report, else from the character estimate.
func (e *Executor) Execute(ctx context.Context, provider, model, prompt string, maxTokens int) (*models.ProviderResult, error) {
	llm, cfg, err := e.client(provider, model)
	if err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	select {
	case e.workerPool <- struct{}{}:
		defer func() { <-e.workerPool }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	resp, err := llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
		llms.WithModel(model),
		llms.WithMaxTokens(maxTokens),
	)
	elapsed := time.Since(start)
	metrics.ObserveProviderLatency(provider, elapsed.Seconds())

	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"provider": provider,
			"model":    model,
		}).Warn("Provider call failed")
		return nil, fmt.Errorf("%s generation failed: %w", provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", provider)
	}

	choice := resp.Choices[0]
	tokensIn, tokensOut := usage(choice.GenerationInfo)
	if tokensIn == 0 {
		tokensIn = utils.EstimateTokenCount(prompt)
	}
	if tokensOut == 0 {
		tokensOut = utils.EstimateTokenCount(choice.Content)
	}

	e.logger.WithFields(logrus.Fields{
		"provider":   provider,
		"model":      model,
		"tokens_in":  tokensIn,
		"tokens_out": tokensOut,
		"latency_ms": elapsed.Milliseconds(),
	}).Debug("Provider call complete")

	return &models.ProviderResult{
		Text:      choice.Content,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      utils.CalculateCost(provider, model, tokensIn, tokensOut),
	}, nil
}

// usage reads token counts from OpenAI (PromptTokens/CompletionTokens) or
// Anthropic (InputTokens/OutputTokens) generation info.
func usage(info map[string]any) (int, int) {
	in := firstInt(info, "PromptTokens", "InputTokens")
	out := firstInt(info, "CompletionTokens", "OutputTokens")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			if v > 0 {
				return v
			}
		case int64:
			if v > 0 {
				return int(v)
			}
		case float64:
			if v > 0 {
				return int(v)
			}
		}
	}
	return 0
}
