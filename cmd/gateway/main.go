package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ismayilysfli/orders-invoice-erp/internal/config"
	"github.com/ismayilysfli/orders-invoice-erp/internal/logging"
	"github.com/ismayilysfli/orders-invoice-erp/internal/metrics"
	"github.com/ismayilysfli/orders-invoice-erp/internal/middleware"
	"github.com/ismayilysfli/orders-invoice-erp/internal/proxy"
	"github.com/ismayilysfli/orders-invoice-erp/internal/response"
	"github.com/ismayilysfli/orders-invoice-erp/internal/router"
	"github.com/ismayilysfli/orders-invoice-erp/internal/token"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", "gateway"), zap.String("env", cfg.App.Env))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	codec, err := token.NewCodec(cfg.JWT.Settings())
	if err != nil {
		logger.Fatal("token codec init failed", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = response.HTTPErrorHandler
	ipExtractor, err := middleware.ClientIPExtractor(cfg.App.TrustedProxies)
	if err != nil {
		logger.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
	}
	e.IPExtractor = ipExtractor
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.Recover())
	e.Use(middleware.GatewayValidator(middleware.ValidatorConfig{
		Codec:       codec,
		PublicPaths: cfg.PublicPaths,
		Logger:      logger,
	}))

	router.RegisterRoutes(e, nil)
	router.RegisterMetrics(e, registry)
	router.RegisterGateway(e, cfg.Routes(), proxy.NewBreakerTransport(http.DefaultTransport, cfg.Breaker, logger), logger)

	addr := ":" + cfg.App.Port
	go func() {
		logger.Info("gateway starting", zap.String("addr", addr), zap.Int("routes", len(cfg.Routes())))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	waitForShutdown(e, logger)
}

func waitForShutdown(e *echo.Echo, logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}
