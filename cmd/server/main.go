package main

import (
	"context"
	"database/sql"
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
	"github.com/ismayilysfli/orders-invoice-erp/internal/database"
	"github.com/ismayilysfli/orders-invoice-erp/internal/handler"
	"github.com/ismayilysfli/orders-invoice-erp/internal/logging"
	"github.com/ismayilysfli/orders-invoice-erp/internal/metrics"
	"github.com/ismayilysfli/orders-invoice-erp/internal/middleware"
	"github.com/ismayilysfli/orders-invoice-erp/internal/model"
	"github.com/ismayilysfli/orders-invoice-erp/internal/queue"
	"github.com/ismayilysfli/orders-invoice-erp/internal/repository"
	"github.com/ismayilysfli/orders-invoice-erp/internal/response"
	"github.com/ismayilysfli/orders-invoice-erp/internal/router"
	"github.com/ismayilysfli/orders-invoice-erp/internal/service"
	"github.com/ismayilysfli/orders-invoice-erp/internal/token"
	"github.com/ismayilysfli/orders-invoice-erp/internal/utils"
)

func main() {
	cfg, err := config.Load()
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
	logger = logger.With(zap.String("service", "auth"), zap.String("env", cfg.App.Env))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	db, err := connectDB(cfg.DB)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer db.Close()

	if cfg.DB.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.Migrate(ctx, db, cfg.DB.Driver)
		cancel()
		if err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
	}

	codec, err := token.NewCodec(cfg.JWT.Settings())
	if err != nil {
		logger.Fatal("token codec init failed", zap.Error(err))
	}

	var publisher service.EventPublisher = queue.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		p := queue.NewPublisher(cfg.RabbitMQURL, logger)
		defer func() { _ = p.Close() }()
		publisher = p
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	auth, err := service.NewAuthService(users, tokens, utils.NewHasher(cfg.BcryptCost), codec, service.AuthSettings{
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		DefaultRole:      model.RoleUser,
		RevokeAllOnReuse: cfg.RevokeAllOnReuse,
		ReuseGrace:       cfg.ReuseGrace,
	}, logger, service.WithPublisher(publisher))
	if err != nil {
		logger.Fatal("auth service init failed", zap.Error(err))
	}

	rdb := config.NewRedisClient(cfg.Redis, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	} else if cfg.RateLimit.Enabled {
		logger.Warn("redis not available, rate limiting per process")
	}
	limiter := middleware.NewTokenBucket(cfg.RateLimit, rdb, logger)

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

	router.RegisterRoutes(e, db)
	router.RegisterMetrics(e, registry)
	router.RegisterAuth(e, handler.NewAuthHandler(auth, logger), limiter)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go service.NewSweeper(tokens, cfg.Sweep.Interval, cfg.Sweep.Retention, logger).Run(ctx)

	if cfg.AuditConsumerEnabled && cfg.RabbitMQURL != "" {
		go func() {
			if err := queue.StartAuditConsumer(ctx, cfg.RabbitMQURL, logger); err != nil {
				logger.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	addr := ":" + cfg.App.Port
	go func() {
		logger.Info("auth service starting", zap.String("addr", addr), zap.String("db_driver", cfg.DB.Driver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	waitForShutdown(e, stop, logger)
}

func connectDB(cfg config.DBConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case database.DriverSQLite:
		return database.OpenSQLite(cfg.Path)
	default:
		return database.Open(cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.Name)
	}
}

func waitForShutdown(e *echo.Echo, stopWorkers context.CancelFunc, logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	stopWorkers()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}
