package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := NewWithWriter("production", &buf)

	r := gin.New()
	r.Use(Middleware(l, MiddlewareOptions{}))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside handler")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-123")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "rid-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if strings.Count(buf.String(), `"request_id":"rid-123"`) != 2 {
		t.Fatalf("expected handler and summary lines to carry request_id, got %s", buf.String())
	}
}

func TestMiddleware_LevelFollowsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := NewWithWriter("production", &buf)

	r := gin.New()
	r.Use(Middleware(l, MiddlewareOptions{QuietPaths: []string{"/healthz"}}))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/down", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/denied", func(c *gin.Context) {
		c.Set("operator", "ops")
		c.Status(http.StatusForbidden)
	})

	serve := func(path string) string {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		return buf.String()
	}

	if out := serve("/healthz"); out != "" {
		t.Fatalf("successful quiet path must log below info, got %s", out)
	}
	if out := serve("/down"); !strings.Contains(out, `"level":"ERROR"`) {
		t.Fatalf("expected error level for 5xx, got %s", out)
	}
	out := serve("/denied")
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"operator":"ops"`) {
		t.Fatalf("expected warn level with operator for 4xx, got %s", out)
	}
}
