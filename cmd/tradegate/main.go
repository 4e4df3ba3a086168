package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradegate/internal/arbitrage"
	"tradegate/internal/config"
	cronrunner "tradegate/internal/cron"
	"tradegate/internal/db"
	"tradegate/internal/events"
	"tradegate/internal/gateway"
	"tradegate/internal/handler"
	"tradegate/internal/killswitch"
	"tradegate/internal/logger"
	"tradegate/internal/models"
	"tradegate/internal/orders"
	gormrepository "tradegate/internal/repository/gorm"
	"tradegate/internal/risk"
)

func main() {
	cfgPath := os.Getenv("TG_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TG_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	exchangeHTTP := &http.Client{Timeout: cfg.Gateway.Timeout}
	exchange := gateway.NewClient(exchangeHTTP, cfg.Gateway.BaseURL)
	store := gormrepository.New(dbConn.Gorm)
	publisher := &events.ZapPublisher{Logger: logger.Named("events")}

	switchEngine := &killswitch.Engine{
		Repo:   store,
		Logger: logger,
		Events: publisher,
	}
	riskMonitor := &risk.Monitor{
		Config: cfg.Risk,
		Repo:   store,
		Logger: logger,
		Events: publisher,
		Switch: switchEngine,
	}
	orderService := &orders.Service{
		Repo:    store,
		Gateway: exchange,
		Logger:  logger,
		Events:  publisher,
	}
	scanner := &arbitrage.Scanner{
		Repo:    store,
		Markets: exchange,
		Logger:  logger,
		Events:  publisher,
		Config:  cfg.Arbitrage,
	}
	executor := &arbitrage.Executor{
		Repo:      store,
		Orders:    orderService,
		Gate:      switchEngine,
		Risk:      riskMonitor,
		Logger:    logger,
		Events:    publisher,
		Config:    cfg.Arbitrage,
		AccountID: cfg.App.AccountID,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Repo: store, Service: orderService}
	orderHandler.Register(engine)
	switchHandler := &handler.KillSwitchHandler{Engine: switchEngine}
	switchHandler.Register(engine)
	riskHandler := &handler.RiskHandler{Monitor: riskMonitor}
	riskHandler.Register(engine)
	arbHandler := &handler.ArbitrageHandler{Repo: store, Scanner: scanner, Executor: executor}
	arbHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add(cfg.Cron.OrderReconcile, func(ctx context.Context) {
			report, err := orderService.Reconcile(ctx)
			if err != nil {
				logger.Warn("cron order reconcile failed", zap.Error(err))
				return
			}
			if rerr := report.Err(); rerr != nil {
				logger.Warn("cron order reconcile had per-order errors", zap.Error(rerr))
			}
		}); err != nil {
			logger.Warn("cron register order reconcile failed", zap.Error(err))
		}

		if _, err := cronRunner.Add(cfg.Cron.ArbitrageScan, func(ctx context.Context) {
			if _, err := scanner.ScanForOpportunities(ctx); err != nil {
				logger.Warn("cron arbitrage scan failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register arbitrage scan failed", zap.Error(err))
		}

		if _, err := cronRunner.Add(cfg.Cron.ThresholdSweep, func(ctx context.Context) {
			if _, err := switchEngine.SweepExpired(ctx); err != nil {
				logger.Warn("cron kill switch sweep failed", zap.Error(err))
				return
			}
			status, err := riskMonitor.GetRiskStatus(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("cron risk status read failed", zap.Error(err))
				return
			}
			loss := status.NetPnL.Neg()
			if loss.IsNegative() {
				loss = decimal.Zero
			}
			if _, err := switchEngine.CheckThresholds(ctx, models.LevelGlobal, "", killswitch.ThresholdMetrics{
				DailyLoss:   loss,
				DrawdownPct: status.DrawdownPct,
			}); err != nil {
				logger.Warn("cron threshold check failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register threshold sweep failed", zap.Error(err))
		}

		if _, err := cronRunner.Add(cfg.Cron.OpportunitySweep, func(ctx context.Context) {
			if _, err := scanner.SweepStale(ctx); err != nil {
				logger.Warn("cron opportunity sweep failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register opportunity sweep failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
