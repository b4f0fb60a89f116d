package main

import (
	"callsync/internal/auth"
	"callsync/internal/httpapi"
	"callsync/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, metricsHandler gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", metricsHandler)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		sync := v1.Group("/sync")
		sync.POST("/calls", rbac.RequireAnyScope(auth.ScopeSync), h.TriggerSync)
		sync.GET("/preview", rbac.RequireAnyScope(auth.ScopeRead), h.Preview)
		sync.GET("/passes", rbac.RequireAnyScope(auth.ScopeRead), h.Passes)
	}
}
