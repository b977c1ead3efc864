package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"www.github.com/Wanderer0074348/HybridRouter/src/cache"
	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/router"
)

func (h *Handler) autoRouteFor(req *models.InferenceRequest) bool {
	if req.AutoRoute != nil {
		return *req.AutoRoute
	}
	return h.autoRoute
}

func routingContext(req *models.InferenceRequest, id string) *models.RoutingContext {
	return &models.RoutingContext{
		UserID:             req.UserID,
		SessionID:          req.SessionID,
		AvailableProviders: req.AvailableProviders,
		MaxCostUSD:         req.MaxCostUSD,
		MinQuality:         req.MinQuality,
		RequestID:          id,
	}
}

// HandleInference serves a prompt end to end: cache check, route, provider
// call, cache store.
func (h *Handler) HandleInference(c *gin.Context) {
	var req models.InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	startTime := h.now()
	ctx := c.Request.Context()
	id := requestID(c)

	if hit, ok := h.cache.Check(ctx, req.Prompt, req.MaxTokens); ok {
		e := hit.Entry
		c.JSON(http.StatusOK, &models.InferenceResponse{
			RequestID:    id,
			Response:     e.ResponseText(),
			CacheKey:     e.CacheKey,
			CacheHit:     true,
			SemanticHit:  hit.Semantic,
			Similarity:   hit.Similarity,
			Provider:     e.Provider,
			Model:        e.Model,
			TokensIn:     e.TokensIn,
			TokensOut:    e.TokensOut,
			QualityScore: e.QualityScore,
			Latency:      time.Since(startTime),
			Timestamp:    h.now(),
		})
		return
	}

	decision, err := h.router.Route(ctx, req.Prompt, h.autoRouteFor(&req), routingContext(&req, id))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, router.ErrRoutingUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	result, err := h.provider.Execute(ctx, decision.Provider, decision.Model, req.Prompt, req.MaxTokens)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": id,
			"provider":   decision.Provider,
			"model":      decision.Model,
		}).Warn("Provider execution failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    err.Error(),
			"decision": decision,
		})
		return
	}

	resp := &models.InferenceResponse{
		RequestID: id,
		Response:  result.Text,
		Decision:  decision,
		Provider:  decision.Provider,
		Model:     decision.Model,
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
		Cost:      result.Cost,
		Timestamp: h.now(),
	}

	entry, err := h.cache.Store(ctx, cache.StoreInput{
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
		Provider:  decision.Provider,
		Model:     decision.Model,
		Response:  result.Text,
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
		Cost:      result.Cost,
	})
	if err != nil {
		h.logger.WithError(err).WithField("request_id", id).Warn("Failed to cache response")
	} else {
		resp.CacheKey = entry.CacheKey
		resp.QualityScore = entry.QualityScore
	}

	resp.Latency = time.Since(startTime)
	c.JSON(http.StatusOK, resp)
}

// HandleRoute returns the routing decision without executing it.
func (h *Handler) HandleRoute(c *gin.Context) {
	var req models.InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.router.Route(c.Request.Context(), req.Prompt, h.autoRouteFor(&req), routingContext(&req, requestID(c)))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, router.ErrRoutingUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decision)
}

type cacheCheckRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	MaxTokens int    `json:"max_tokens"`
}

type cacheCheckResponse struct {
	Hit        bool               `json:"hit"`
	CacheKey   string             `json:"cache_key"`
	Semantic   bool               `json:"semantic,omitempty"`
	Similarity float64            `json:"similarity,omitempty"`
	Entry      *models.CacheEntry `json:"entry,omitempty"`
}

func (h *Handler) HandleCacheCheck(c *gin.Context) {
	var req cacheCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := cacheCheckResponse{CacheKey: cache.Key(req.Prompt, req.MaxTokens)}
	if hit, ok := h.cache.Check(c.Request.Context(), req.Prompt, req.MaxTokens); ok {
		resp.Hit = true
		resp.CacheKey = hit.Entry.CacheKey
		resp.Semantic = hit.Semantic
		resp.Similarity = hit.Similarity
		resp.Entry = hit.Entry
		resp.Entry.Embedding = nil
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) HandleFeedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.cache.RecordFeedback(c.Request.Context(), req.CacheKey, req.Rating, req.Comment)
	switch {
	case errors.Is(err, cache.ErrInvalidRating):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, cache.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.WithError(err).WithField("cache_key", req.CacheKey).Error("Failed to record feedback")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
	default:
		c.JSON(http.StatusOK, result)
	}
}
