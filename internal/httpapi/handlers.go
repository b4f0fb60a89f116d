package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"callsync/internal/audit"
	"callsync/internal/auth"
	"callsync/internal/reconcile"
	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Engine  SyncEngine
	History PassHistory
	// Checks are run by Healthz; any error reports the process unhealthy.
	Checks map[string]HealthCheck
}

type SyncEngine interface {
	Run(ctx context.Context, trigger audit.Trigger) reconcile.Summary
	Preview(ctx context.Context, limit int) ([]reconcile.PreviewItem, error)
}

type PassHistory interface {
	Recent(ctx context.Context, limit int) ([]audit.PassRecord, error)
}

type HealthCheck func(ctx context.Context) error

const healthTimeout = 2 * time.Second

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		logger.FromGin(c).Warn("health check failed", "checks", failed)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Sync ---

// TriggerSync runs one pass and returns its summary.
// 409 when another pass is active, 502 when the pass failed fatally.
func (h Handlers) TriggerSync(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync engine not configured"})
		return
	}
	operator, _ := auth.Operator(c.Request.Context())
	logger.FromGin(c).Info("manual sync requested", "operator", operator)

	sum := h.Engine.Run(c.Request.Context(), audit.TriggerManual)

	status := http.StatusOK
	switch sum.Outcome {
	case reconcile.OutcomeDropped:
		status = http.StatusConflict
	case reconcile.OutcomeFailed:
		status = http.StatusBadGateway
	}
	c.JSON(status, sum)
}

func (h Handlers) Preview(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync engine not configured"})
		return
	}
	limit, ok := queryLimit(c, reconcile.DefaultPreviewLimit)
	if !ok {
		return
	}

	items, err := h.Engine.Preview(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "preview failed", "kind": reconcile.Kind(err)})
		return
	}
	if items == nil {
		items = []reconcile.PreviewItem{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "calls": items})
}

// Passes lists recent pass history, newest first.
func (h Handlers) Passes(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pass history not configured"})
		return
	}
	limit, ok := queryLimit(c, audit.DefaultRecentLimit)
	if !ok {
		return
	}

	recs, err := h.History.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	if recs == nil {
		recs = []audit.PassRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(recs), "passes": recs})
}

// queryLimit parses ?limit=. Clamping is left to the service.
func queryLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}
