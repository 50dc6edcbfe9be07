package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/school-portal-api/api/swagger"
	"github.com/noah-isme/school-portal-api/internal/handler"
	internalmiddleware "github.com/noah-isme/school-portal-api/internal/middleware"
	"github.com/noah-isme/school-portal-api/internal/repository"
	"github.com/noah-isme/school-portal-api/internal/service"
	"github.com/noah-isme/school-portal-api/pkg/cache"
	"github.com/noah-isme/school-portal-api/pkg/config"
	"github.com/noah-isme/school-portal-api/pkg/database"
	"github.com/noah-isme/school-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/school-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/school-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/school-portal-api/pkg/notify"
	"github.com/noah-isme/school-portal-api/pkg/storage"
)

// @title School Portal API
// @version 1.0.0
// @description Enrollment, class approval and credit transfer workflows
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			// Reads fall back to the database when the cache is unavailable.
			logr.Warn("redis unavailable, cache disabled", zap.Error(err))
			redisClient = nil
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	classRepo := repository.NewClassApprovalRepository(db)
	transferRepo := repository.NewCreditTransferRepository(db)
	accessRepo := repository.NewAccessRepository(db)
	workflowStore := repository.NewWorkflowStore(db, cfg.Workflow.LockTimeout, enrollmentRepo, classRepo, transferRepo)

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	}

	notifier, err := notify.New(cfg.Notifications, logr)
	if err != nil {
		logr.Fatal("failed to init notification gateway", zap.Error(err))
	}

	files, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Fatal("failed to init document storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)
	documentSvc := service.NewDocumentService(files, signer, cfg.Documents.MaxFileSizeBytes, cfg.Documents.AllowedMIMEs, cfg.APIPrefix, logr)

	dispatcher := service.NewCascadeDispatcher(workflowStore, cfg.Cascade, metricsSvc, logr)
	service.RegisterCascadeSteps(dispatcher, service.CascadeDeps{
		Access:   accessRepo,
		Classes:  classRepo,
		Credits:  transferRepo,
		Cache:    cacheSvc,
		Notifier: notifier,
		Users:    userRepo,
		Logger:   logr,
	})
	engine := service.NewWorkflowEngine(workflowStore, dispatcher, metricsSvc, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	accessSvc := service.NewAccessService(accessRepo, cacheSvc, logr)

	handlers := routeHandlers{
		auth:     handler.NewAuthHandler(authSvc),
		workflow: handler.NewWorkflowHandler(engine, handler.ConflictRetry{Attempts: cfg.Workflow.ConflictRetries, Backoff: cfg.Workflow.ConflictBackoff}, validate, logr),
		enrollment: handler.NewEnrollmentHandler(
			service.NewEnrollmentService(enrollmentRepo, paymentRepo, engine, documentSvc, validate, logr),
		),
		classApproval:  handler.NewClassApprovalHandler(service.NewClassApprovalService(classRepo, cacheSvc, validate, logr)),
		creditTransfer: handler.NewCreditTransferHandler(service.NewCreditTransferService(transferRepo, documentSvc, validate, logr)),
		access:         handler.NewAccessHandler(accessSvc),
		document:       handler.NewDocumentHandler(documentSvc),
		metrics:        handler.NewMetricsHandler(metricsSvc, readinessChecks(db.PingContext, redisClient)),
		features:       accessSvc,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", handlers.metrics.Health)
	r.GET("/ready", handlers.metrics.Ready)
	r.GET("/metrics", handlers.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), handlers, authSvc)

	dispatcher.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	dispatcher.Stop()
}

func readinessChecks(pingDB handler.Pinger, client *redis.Client) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"database": pingDB}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}
