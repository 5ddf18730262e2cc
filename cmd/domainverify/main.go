package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/domainverify/internal/app"
	"github.com/jmerrifield20/domainverify/internal/auth"
	"github.com/jmerrifield20/domainverify/internal/config"
	"github.com/jmerrifield20/domainverify/internal/database"
	"github.com/jmerrifield20/domainverify/internal/verification/handler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "domainverify",
	Short:         "Domain ownership verification API server",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(*cobra.Command, []string) error {
		logger, _ := zap.NewProduction()
		defer logger.Sync() //nolint:errcheck
		return run(logger, cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/domainverify.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "domainverify: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *zap.Logger, configFile string) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, found, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := database.Connect(ctx, database.Config{
		URL:           cfg.Database.URL,
		MaxConns:      cfg.Database.MaxConns,
		RetryAttempts: cfg.Database.RetryAttempts,
		RetryInterval: cfg.Database.RetryInterval,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to postgres")

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logger); err != nil {
			return err
		}
	}

	// ── Verification service ─────────────────────────────────────────────────
	svc, err := app.NewVerificationService(cfg, db, logger)
	if err != nil {
		return err
	}
	svc.SetCheckRecorder(handler.RecordCheck)

	events := app.NewEvents(cfg, db, logger)
	svc.SetEventDispatch(events.Dispatch)
	defer func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := events.Wait(waitCtx); err != nil {
			logger.Warn("webhook deliveries still in flight at shutdown", zap.Error(err))
		}
	}()
	if events.Webhooks != nil {
		events.Webhooks.SetMetricsRecorder(handler.RecordWebhookDelivery)
		logger.Info("webhooks enabled", zap.Int("endpoints", len(cfg.Webhooks.URLs)))
	}
	logger.Info("verification policy",
		zap.String("dns_record_prefix", svc.Policy().DNSRecordPrefix),
		zap.Duration("validity_window", svc.Policy().ValidityWindow),
		zap.String("dns_resolver", cfg.DNS.Resolver),
	)

	var tokens *auth.TokenIssuer
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("configure auth: %w", err)
		}
	} else {
		logger.Warn("auth.jwt_secret is empty; the API is unauthenticated")
	}

	// ── Scheduler ────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		sched, err := app.NewScheduler(cfg.Scheduler, svc, logger)
		if err != nil {
			return err
		}
		sched.SetSweepRecorder(handler.RecordSweep)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			<-sched.Stop().Done()
			logger.Info("scheduler stopped")
		}()
	}

	// ── Health checks ────────────────────────────────────────────────────────
	checker, err := app.NewHealthChecker(cfg, db, logger)
	if err != nil {
		return err
	}
	checker.SetMetricsRecord(handler.RecordHealthProbe)
	checker.Start(ctx)
	logger.Info("health checks started", zap.Strings("dependencies", checker.Names()))

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 64<<10)
		c.Next()
	})

	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, int(rps*2)+1))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", checker.Handler())
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewVerificationHandler(svc, tokens, logger).Register(v1)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("domainverify HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http listen: %w", err)
	}
	logger.Info("shutting down domainverify...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("domainverify stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
