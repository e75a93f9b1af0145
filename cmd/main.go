package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/tesseract-hub/translation-engine/internal/billing"
	"github.com/tesseract-hub/translation-engine/internal/breaker"
	"github.com/tesseract-hub/translation-engine/internal/cache"
	"github.com/tesseract-hub/translation-engine/internal/clients"
	"github.com/tesseract-hub/translation-engine/internal/config"
	"github.com/tesseract-hub/translation-engine/internal/conversation"
	"github.com/tesseract-hub/translation-engine/internal/engine"
	"github.com/tesseract-hub/translation-engine/internal/events"
	"github.com/tesseract-hub/translation-engine/internal/handlers"
	"github.com/tesseract-hub/translation-engine/internal/health"
	"github.com/tesseract-hub/translation-engine/internal/metrics"
	"github.com/tesseract-hub/translation-engine/internal/middleware"
	"github.com/tesseract-hub/translation-engine/internal/models"
	"github.com/tesseract-hub/translation-engine/internal/repository"
	"github.com/tesseract-hub/translation-engine/internal/router"
	"github.com/tesseract-hub/translation-engine/internal/scheduler"
	"github.com/tesseract-hub/translation-engine/internal/usage"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logger.WithField("service", "translation-engine")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Set Gin mode
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := initDatabase(&cfg.Database, cfg.App.Environment)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	// Initialize repositories
	translationRepo := repository.NewTranslationRepository(db)
	creditsRepo := repository.NewCreditsRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	// Seed the language catalog
	if err := translationRepo.SeedLanguages(context.Background()); err != nil {
		log.WithError(err).Warn("Failed to seed languages")
	}

	// Initialize Redis cache with warm-up
	var translationCache *cache.TranslationCache
	if cfg.Translation.CacheEnabled {
		translationCache, err = cache.NewTranslationCache(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Translation.CacheTTL,
			translationRepo,
			log,
		)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Redis cache, continuing without cache")
		} else {
			warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := translationCache.WarmUp(warmCtx, cfg.Translation.CacheWarmupHits, 1000); err != nil {
				log.WithError(err).Warn("Cache warm-up failed")
			}
			cancel()
		}
	}

	// Register translation providers. Registration order is the router's
	// deterministic tie-break, cheapest first.
	var providers []clients.TranslationProvider

	libreTranslate := clients.NewLibreTranslateClient(
		cfg.Translation.LibreTranslateURL,
		cfg.Translation.LibreTranslateKey,
		cfg.Billing.Currency,
		log,
	)
	if libreTranslate.IsConfigured() {
		providers = append(providers, libreTranslate)
		log.Info("LibreTranslate provider registered")
	}

	deepL := clients.NewDeepLClient(
		cfg.Translation.DeepLURL,
		cfg.Translation.DeepLKey,
		cfg.Billing.Currency,
		log,
	)
	if deepL.IsConfigured() {
		providers = append(providers, deepL)
		log.Info("DeepL provider registered")
	}

	openAI := clients.NewOpenAIClient(
		cfg.Translation.OpenAIURL,
		cfg.Translation.OpenAIKey,
		cfg.Translation.OpenAIModel,
		cfg.Billing.Currency,
		log,
	)
	if openAI.IsConfigured() {
		providers = append(providers, openAI)
		log.Info("OpenAI provider registered")
	}

	googleTranslate := clients.NewGoogleTranslateClient(
		cfg.Translation.GoogleTranslateKey,
		cfg.Billing.Currency,
		log,
	)
	if googleTranslate.IsConfigured() {
		providers = append(providers, googleTranslate)
		log.Info("Google Translate provider registered")
	}

	if len(providers) == 0 {
		log.Fatal("No translation provider configured")
	}

	// Circuit breakers, one per provider
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		CallTimeout:      cfg.Breaker.CallTimeout,
	}, log)

	// Health poller publishes lock-free snapshots for the router
	poller := health.NewPoller(providers, cfg.Translation.HealthPollInterval, log)

	// Router scores providers per request
	providerRouter := router.New(providers, breakers, poller, router.Config{
		HealthyWeight:   cfg.Router.HealthyWeight,
		DegradedWeight:  cfg.Router.DegradedWeight,
		AffinityMax:     cfg.Router.AffinityMax,
		ComplexityMax:   cfg.Router.ComplexityMax,
		CostMax:         cfg.Router.CostMax,
		SimpleMaxChars:  cfg.Router.SimpleMaxChars,
		ComplexMinChars: cfg.Router.ComplexMinChars,
	}, log)

	// Conversation context manager
	conversationManager := conversation.NewManager(conversation.Config{
		BufferSize:        cfg.Context.BufferSize,
		MinContextLength:  cfg.Context.MinContextLength,
		InactivityTimeout: cfg.Context.InactivityTimeout,
		SweepInterval:     cfg.Context.SweepInterval,
	}, log)

	// Billing: NATS events, payment gateway, ledger
	publisher, err := events.NewPublisher(cfg.NATS.URL, cfg.App.Name, log)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to NATS, event publishing disabled")
	}
	var eventPublisher billing.EventPublisher
	if publisher != nil {
		eventPublisher = publisher
	}

	payments := billing.NewHTTPPaymentClient(cfg.Billing.PaymentAPIURL, cfg.Billing.PaymentAPIKey, log)
	ledger := billing.NewLedger(creditsRepo, payments, eventPublisher, billing.Config{
		Currency:                 cfg.Billing.Currency,
		FreemiumStartingBalance:  cfg.Billing.FreemiumStartingBalance,
		AutoRechargeDefault:      cfg.Billing.AutoRechargeDefault,
		RechargeThresholdDefault: cfg.Billing.RechargeThresholdDefault,
		RechargeAmountDefault:    cfg.Billing.RechargeAmountDefault,
		LowBalanceThreshold:      cfg.Billing.LowBalanceThreshold,
	}, log)

	// Usage tracker
	tracker := usage.NewTracker(usageRepo, usage.Config{
		FlushBatchSize: cfg.Usage.FlushBatchSize,
		FlushInterval:  cfg.Usage.FlushInterval,
		QueueCapacity:  cfg.Usage.QueueCapacity,
	}, log)

	// Engine. A nil *cache.TranslationCache must stay a nil interface so the
	// engine's nil check keeps working.
	var engineCache engine.Cache
	if translationCache != nil {
		engineCache = translationCache
	}
	translationEngine := engine.New(providerRouter, engineCache, conversationManager,
		ledger, tracker, poller, breakers, engine.Config{
			RequestTimeout:    cfg.Translation.RequestTimeout,
			CacheEnabled:      cfg.Translation.CacheEnabled,
			Currency:          cfg.Billing.Currency,
			DefaultSourceLang: cfg.Translation.DefaultSourceLang,
			MaxBatchItems:     cfg.Translation.MaxBatchSize,
		}, log)

	// Background tasks run independently of request lifecycles
	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	go poller.Run(backgroundCtx)
	go conversationManager.Run(backgroundCtx)
	go tracker.Run(backgroundCtx)

	// Maintenance scheduler
	maintenance := scheduler.New(translationRepo, usageRepo, cfg.Usage.Retention, log)
	if err := maintenance.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start maintenance scheduler")
	}

	// Handlers
	translationHandler := handlers.NewTranslationHandler(translationEngine, conversationManager,
		translationRepo, translationCache, log)
	billingHandler := handlers.NewBillingHandler(ledger, usageRepo, log)
	healthHandler := handlers.NewHealthHandler(db, translationCache, log)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Translation.RateLimit,
		cfg.Translation.RateLimitWindow,
	)

	// Setup Gin router
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.Use(middleware.CORS())
	ginRouter.Use(middleware.RequestID())
	ginRouter.Use(middleware.WorkspaceID())
	ginRouter.Use(middleware.UserID())
	ginRouter.Use(metrics.Middleware())

	// Health endpoints (no auth required)
	ginRouter.GET("/health", healthHandler.Health)
	ginRouter.GET("/livez", healthHandler.Livez)
	ginRouter.GET("/readyz", healthHandler.Readyz)

	// Metrics endpoint
	ginRouter.GET("/metrics", metrics.Handler())

	// API v1 routes
	v1 := ginRouter.Group("/api/v1")
	{
		v1.POST("/translate", middleware.RequireWorkspaceID(), rateLimiter.Middleware(), translationHandler.Translate)
		v1.POST("/translate/batch", middleware.RequireWorkspaceID(), rateLimiter.Middleware(), translationHandler.TranslateBatch)
		v1.POST("/detect", rateLimiter.Middleware(), translationHandler.DetectLanguage)
		v1.GET("/languages", translationHandler.GetLanguages)
		v1.GET("/providers/health", translationHandler.GetProviderHealth)
		v1.DELETE("/cache", middleware.RequireWorkspaceID(), translationHandler.InvalidateCache)

		v1.POST("/context/:channel/messages", translationHandler.AddContextMessage)
		v1.GET("/context/:channel", translationHandler.GetContext)
		v1.DELETE("/context/:channel", translationHandler.ClearContext)

		v1.GET("/credits", middleware.RequireWorkspaceID(), billingHandler.GetCredits)
		v1.POST("/credits/recharge", middleware.RequireWorkspaceID(), billingHandler.Recharge)
		v1.PUT("/credits/auto-recharge", middleware.RequireWorkspaceID(), billingHandler.UpdateAutoRecharge)
		v1.GET("/transactions", middleware.RequireWorkspaceID(), billingHandler.ListTransactions)
		v1.GET("/usage/daily", middleware.RequireWorkspaceID(), billingHandler.GetDailyUsage)
	}

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      ginRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.WithField("addr", addr).Info("Starting translation engine")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Stop background tasks; the tracker drains its queue on cancellation
	maintenance.Stop()
	stopBackground()
	time.Sleep(time.Second)

	// Close connections
	if translationCache != nil {
		if err := translationCache.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Redis connection")
		}
	}
	publisher.Close()

	log.Info("Server exited")
}

func initDatabase(cfg *config.DatabaseConfig, env string) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	logLevel := gormLogger.Silent
	if env != "production" {
		logLevel = gormLogger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Language{},
		&models.CachedTranslation{},
		&models.WorkspaceCredits{},
		&models.CreditTransaction{},
		&models.UsageRecord{},
		&models.DailyUsage{},
	)
}
