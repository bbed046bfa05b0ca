package http

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pricelens/backend/internal/domain"
	"go.uber.org/zap"
)

// Hunter runs one price hunt to completion.
type Hunter interface {
	Run(ctx context.Context, req domain.HuntRequest) (*domain.HuntResult, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	hunter  Hunter
	metrics http.Handler
	logger  *zap.Logger

	// One device, one session at a time.
	busy sync.Mutex
}

// NewHandler creates a new HTTP handler. A nil hunter makes the hunt endpoint
// answer 503 and a nil metrics handler leaves /metrics unrouted.
func NewHandler(hunter Hunter, metrics http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hunter:  hunter,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "http")),
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pricelens-backend",
		"version": "1.0.0",
	})
}

// StartHunt runs a hunt synchronously and returns its result.
func (h *Handler) StartHunt(c *gin.Context) {
	if h.hunter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "hunt service not configured"})
		return
	}

	var req domain.HuntRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if !h.busy.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": domain.ErrSessionBusy.Error()})
		return
	}
	defer h.busy.Unlock()

	result, err := h.hunter.Run(c.Request.Context(), req)
	if err != nil {
		status := huntStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("hunt failed", zap.String("query", req.Query), zap.Error(err))
		}
		if result == nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(status, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// huntStatus maps a hunt error to the response status.
func huntStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case domain.IsFatal(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
