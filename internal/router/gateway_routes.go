package router

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/ismayilysfli/orders-invoice-erp/internal/config"
	"github.com/ismayilysfli/orders-invoice-erp/internal/proxy"
	"github.com/ismayilysfli/orders-invoice-erp/internal/response"
)

// RegisterGateway mounts one reverse proxy per route prefix. Requests are
// spread over the route's targets round-robin and sent through transport.
func RegisterGateway(e *echo.Echo, routes []config.Route, transport http.RoundTripper, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, r := range routes {
		targets := make([]*echomw.ProxyTarget, 0, len(r.Targets))
		for _, u := range r.Targets {
			targets = append(targets, &echomw.ProxyTarget{Name: u.Host, URL: u})
		}
		mw := echomw.ProxyWithConfig(echomw.ProxyConfig{
			Balancer:     echomw.NewRoundRobinBalancer(targets),
			Transport:    transport,
			ErrorHandler: proxyErrorHandler(logger, r.Prefix),
		})
		e.Any(r.Prefix, echo.NotFoundHandler, mw)
		e.Any(r.Prefix+"/*", echo.NotFoundHandler, mw)
		logger.Info("route mounted", zap.String("prefix", r.Prefix), zap.Int("targets", len(targets)))
	}
}

func proxyErrorHandler(logger *zap.Logger, prefix string) func(echo.Context, error) error {
	return func(c echo.Context, err error) error {
		if errors.Is(err, proxy.ErrUpstreamUnavailable) {
			return response.Error(c, http.StatusServiceUnavailable, "Upstream temporarily unavailable")
		}
		logger.Warn("upstream request failed", zap.String("prefix", prefix), zap.Error(err))
		return response.Error(c, http.StatusBadGateway, "Upstream request failed")
	}
}
