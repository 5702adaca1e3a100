package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ismayilysfli/orders-invoice-erp/internal/handler"
	"github.com/ismayilysfli/orders-invoice-erp/internal/metrics"
	"github.com/ismayilysfli/orders-invoice-erp/internal/middleware"
	"github.com/ismayilysfli/orders-invoice-erp/internal/model"
)

// RegisterRoutes registers the probes.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
}

// RegisterMetrics exposes registry on /metrics.
func RegisterMetrics(e *echo.Echo, registry *prometheus.Registry) {
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(registry)))
}

// RegisterAuth registers the /auth endpoints. The credential endpoints sit
// behind limiter; /auth/me trusts the identity headers set by the gateway.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/auth")
	g.POST("/register", a.Register, limiter)
	g.POST("/login", a.Login, limiter)
	g.POST("/refresh", a.Refresh, limiter)
	g.POST("/logout", a.Logout)

	g.GET("/me", a.Me,
		middleware.TrustedIdentity(),
		middleware.RequireRole(model.RoleUser, model.RoleAdmin),
	)
}
