package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"www.github.com/Wanderer0074348/HybridRouter/src/trainer"
)

func (h *Handler) HandlePatternConfidence(c *gin.Context) {
	patterns, err := h.patterns.PatternConfidence(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute pattern confidence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute pattern confidence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

// parseWindow reads ?window_days, defaulting to the configured window.
func (h *Handler) parseWindow(c *gin.Context) (int, bool) {
	raw := c.Query("window_days")
	if raw == "" {
		return h.windowDays, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_days must be a positive integer"})
		return 0, false
	}
	return days, true
}

func (h *Handler) HandleCostSavings(c *gin.Context) {
	days, ok := h.parseWindow(c)
	if !ok {
		return
	}
	savings, err := h.metrics.CostSavings(c.Request.Context(), days)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute cost savings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute cost savings"})
		return
	}
	c.JSON(http.StatusOK, savings)
}

func (h *Handler) HandleSummary(c *gin.Context) {
	days, ok := h.parseWindow(c)
	if !ok {
		return
	}
	summary, err := h.metrics.Summary(c.Request.Context(), days)
	if err != nil {
		h.logger.WithError(err).Error("Failed to summarize decisions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize decisions"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleRetrain runs the trainer synchronously. ?dry_run=true reports
// changes without writing history.
func (h *Handler) HandleRetrain(c *gin.Context) {
	if h.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trainer disabled"})
		return
	}
	dryRun, err := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
		return
	}

	result, err := h.trainer.Retrain(c.Request.Context(), dryRun)
	switch {
	case errors.Is(err, trainer.ErrRetrainInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.WithError(err).Error("Retrain failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retrain failed"})
	default:
		c.JSON(http.StatusOK, result)
	}
}
