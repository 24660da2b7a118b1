package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-classwall/api/swagger"
	"github.com/noah-isme/sma-classwall/internal/handler"
	"github.com/noah-isme/sma-classwall/internal/middleware"
	"github.com/noah-isme/sma-classwall/internal/models"
	"github.com/noah-isme/sma-classwall/internal/repository"
	"github.com/noah-isme/sma-classwall/internal/service"
	"github.com/noah-isme/sma-classwall/pkg/cache"
	"github.com/noah-isme/sma-classwall/pkg/config"
	"github.com/noah-isme/sma-classwall/pkg/database"
	"github.com/noah-isme/sma-classwall/pkg/jobs"
	"github.com/noah-isme/sma-classwall/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-classwall/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-classwall/pkg/middleware/requestid"
	"github.com/noah-isme/sma-classwall/pkg/storage"
)

// @title SMA Classwall API
// @version 1.0.0
// @description Class wall feed with optimistic posting, comment threads and audience filtering
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	checks := map[string]handler.Pinger{"postgres": db}

	var membershipCache *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, membership cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close() //nolint:errcheck
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		membershipCache = service.NewCacheService(cacheRepo, metrics, cfg.Membership.CacheTTL, logr, cfg.Membership.CacheEnabled)
	}

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)

	listener := database.NewListener(cfg.Database, cfg.Feed.LiveReconnectMin, cfg.Feed.LiveReconnectMax, logr)
	liveQuery := repository.NewLiveQuery(listener, logr)
	defer liveQuery.Close() //nolint:errcheck
	go liveQuery.Run(ctx)
	watcher := repository.NewFeedWatcher(liveQuery, postRepo, commentRepo)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	events := service.NewEventService(jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.Retries,
		RetryDelay: cfg.Events.RetryDelay,
	}, metrics, logr)
	events.Start(ctx)
	defer events.Stop()

	memberships := service.NewMembershipResolver(membershipRepo, membershipCache, cfg.Membership.CacheTTL, metrics, logr)

	attachments := service.NewAttachmentService(service.AttachmentPolicy{
		MaxFileSizeBytes: cfg.Attachments.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Attachments.AllowedMIMEs,
		MaxFiles:         cfg.Attachments.MaxFiles,
	}, storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL), cfg.APIPrefix, logr)

	digest := service.NewDigestService(cfg.Digest.Enabled, logr)

	sessions := service.NewSessionService(service.SessionDeps{
		Posts:       postRepo,
		Comments:    commentRepo,
		Profiles:    authService,
		Memberships: memberships,
		Watcher:     watcher,
		Events:      events,
		Attachments: attachments,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
	}, service.SessionConfig{
		SnapshotLimit: cfg.Feed.SnapshotLimit,
		IdleTTL:       cfg.Feed.SessionIdleTTL,
		SweepInterval: cfg.Feed.SweepInterval,
		MaxWarnings:   cfg.Feed.MaxWarningsBuffer,
	})
	go sessions.Run(ctx)
	defer sessions.ReleaseAll()

	authHandler := handler.NewAuthHandler(authService, sessions)
	feedHandler := handler.NewFeedHandler(sessions, digest, cfg.Feed.StreamHeartbeat)
	postHandler := handler.NewPostHandler(sessions, attachments)
	commentHandler := handler.NewCommentHandler(sessions)
	fileHandler := handler.NewFileHandler(attachments)
	metricsHandler := handler.NewMetricsHandler(metrics, sessions, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", cfg.APIPrefix+"/feed/stream"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/files/:token", fileHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(authService), middleware.RequireRoles(models.RoleInstructor, models.RoleStudent))
	secured.GET("/me", authHandler.Me)
	secured.GET("/me/memberships", authHandler.Memberships)
	secured.DELETE("/session", authHandler.EndSession)

	secured.GET("/feed", feedHandler.List)
	secured.GET("/feed/stream", feedHandler.Stream)
	secured.GET("/feed/warnings", feedHandler.Warnings)
	secured.GET("/feed/export", feedHandler.Export)

	secured.POST("/posts", postHandler.Create)
	secured.PATCH("/posts/:id", postHandler.Edit)
	secured.DELETE("/posts/:id", postHandler.Delete)
	secured.POST("/posts/:id/like", postHandler.Like)
	secured.GET("/posts/:id/files", postHandler.Files)

	secured.GET("/posts/:id/comments", commentHandler.List)
	secured.POST("/posts/:id/comments", commentHandler.Add)
	secured.DELETE("/posts/:id/comments", commentHandler.Close)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end on shutdown so open event streams return
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
