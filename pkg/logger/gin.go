package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
	// Set on the gin context by the operator token middleware.
	ginOperatorKey = "operator"
)

// MiddlewareOptions tunes the request summary line.
type MiddlewareOptions struct {
	// QuietPaths are logged at debug when they succeed, e.g. /healthz.
	QuietPaths []string
}

// Middleware returns a Gin middleware that injects request_id and logs one
// summary per request: error for 5xx, warn for 4xx, info otherwise. The
// request-scoped logger is stored on the gin context and the request context.
func Middleware(l *slog.Logger, opts MiddlewareOptions) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set(ginLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if op := c.GetString(ginOperatorKey); op != "" {
			attrs = append(attrs, "operator", op)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		default:
			if _, ok := quiet[path]; ok {
				level = slog.LevelDebug
			}
		}
		reqLogger.Log(c.Request.Context(), level, "request", attrs...)
	}
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
