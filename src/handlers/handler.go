package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/cache"
	"www.github.com/Wanderer0074348/HybridRouter/src/ledger"
	"www.github.com/Wanderer0074348/HybridRouter/src/logging"
	"www.github.com/Wanderer0074348/HybridRouter/src/metrics"
	"www.github.com/Wanderer0074348/HybridRouter/src/middleware"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/trainer"
)

// Router is the routing engine as seen by the HTTP layer.
type Router interface {
	Route(ctx context.Context, prompt string, autoRoute bool, rc *models.RoutingContext) (*models.RoutingDecision, error)
}

// Cache is the response cache as seen by the HTTP layer.
type Cache interface {
	Check(ctx context.Context, prompt string, maxTokens int) (*cache.Hit, bool)
	Store(ctx context.Context, in cache.StoreInput) (*models.CacheEntry, error)
	RecordFeedback(ctx context.Context, key string, rating int, comment string) (*cache.FeedbackResult, error)
}

type PatternReporter interface {
	PatternConfidence(ctx context.Context) ([]ledger.PatternConfidence, error)
}

type MetricsReporter interface {
	CostSavings(ctx context.Context, windowDays int) (*metrics.Savings, error)
	Summary(ctx context.Context, windowDays int) (*metrics.Summary, error)
}

type Retrainer interface {
	Retrain(ctx context.Context, dryRun bool) (*trainer.Result, error)
}

// Deps wires the handler. Trainer may be nil when retraining is disabled.
type Deps struct {
	Router    Router
	Cache     Cache
	Provider  models.Provider
	Patterns  PatternReporter
	Metrics   MetricsReporter
	Trainer   Retrainer
	AutoRoute bool
	// WindowDays is the default metrics window.
	WindowDays int
	Logger     *logrus.Logger
}

type Handler struct {
	router     Router
	cache      Cache
	provider   models.Provider
	patterns   PatternReporter
	metrics    MetricsReporter
	trainer    Retrainer
	autoRoute  bool
	windowDays int
	logger     *logrus.Logger
	now        func() time.Time
}

func New(d Deps) *Handler {
	if d.WindowDays <= 0 {
		d.WindowDays = metrics.DefaultWindowDays
	}
	return &Handler{
		router:     d.Router,
		cache:      d.Cache,
		provider:   d.Provider,
		patterns:   d.Patterns,
		metrics:    d.Metrics,
		trainer:    d.Trainer,
		autoRoute:  d.AutoRoute,
		windowDays: d.WindowDays,
		logger:     logging.OrDiscard(d.Logger),
		now:        time.Now,
	}
}

// Register mounts every route under /api/v1.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", h.HealthCheck)
		v1.POST("/inference", h.HandleInference)
		v1.POST("/route", h.HandleRoute)
		v1.POST("/cache/check", h.HandleCacheCheck)
		v1.POST("/feedback", h.HandleFeedback)
		v1.GET("/patterns/confidence", h.HandlePatternConfidence)
		v1.GET("/metrics/savings", h.HandleCostSavings)
		v1.GET("/metrics/summary", h.HandleSummary)
		v1.POST("/trainer/retrain", h.HandleRetrain)
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.now(),
	})
}

func requestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}
