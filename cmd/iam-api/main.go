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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/iam-api/api/swagger"
	"github.com/noah-isme/iam-api/internal/handler"
	"github.com/noah-isme/iam-api/internal/middleware"
	"github.com/noah-isme/iam-api/internal/models"
	"github.com/noah-isme/iam-api/internal/repository"
	"github.com/noah-isme/iam-api/internal/service"
	"github.com/noah-isme/iam-api/pkg/cache"
	"github.com/noah-isme/iam-api/pkg/config"
	"github.com/noah-isme/iam-api/pkg/database"
	"github.com/noah-isme/iam-api/pkg/jobs"
	"github.com/noah-isme/iam-api/pkg/logger"
	"github.com/noah-isme/iam-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/iam-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/iam-api/pkg/middleware/requestid"
)

// @title IAM API
// @version 1.0.0
// @description Identity and session management service
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, role cache disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
	}

	auditSvc := service.NewAuditService(auditRepo, logr, queueCfg)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	var outbound mailer.Mailer = mailer.Noop{}
	if cfg.Mail.Enabled {
		outbound = mailer.NewSMTP(cfg.Mail)
	}
	notifySvc := service.NewNotifyService(outbound, logr, queueCfg)
	notifySvc.Start(ctx)
	defer notifySvc.Stop()

	metricsSvc := service.NewMetricsService()

	cacheTTL := cfg.Roles.CacheTTL
	if !cfg.Roles.CacheEnabled {
		cacheRepo = repository.NewCacheRepository(nil)
	}
	roleSvc := service.NewRoleService(roleRepo, cacheRepo, cacheTTL, logr)
	tokenSvc := service.NewTokenService(tokenRepo, logr, cfg.Auth)

	authSvc := service.NewAuthService(service.AuthServiceDeps{
		Users:         userRepo,
		Tokens:        tokenRepo,
		Roles:         roleSvc,
		Issuer:        tokenSvc,
		Audit:         auditSvc,
		Metrics:       metricsSvc,
		Logger:        logr,
		SingleSession: cfg.Auth.SingleSession,
	})
	userSvc := service.NewUserService(userRepo, tokenRepo, notifySvc, auditSvc, nil, logr)
	reportSvc := service.NewReportService(tokenRepo)

	authHandler := handler.NewAuthHandler(authSvc, userSvc, logr)
	userHandler := handler.NewUserHandler(userSvc)
	roleHandler := handler.NewRoleHandler(roleSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(tokenSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.GET("/me", authHandler.Me)
		authed.POST("/change-password", authHandler.ChangePassword)
	}

	users := api.Group("/users", middleware.JWT(tokenSvc))
	{
		users.GET("", middleware.RBAC(models.RoleNameAdmin), userHandler.List)
		users.POST("", middleware.RBAC(models.RoleNameAdmin), userHandler.Create)
		users.GET("/:id", middleware.RBAC(models.RoleNameAdmin, middleware.SelfRole), userHandler.Get)
		users.PUT("/:id", middleware.RBAC(models.RoleNameAdmin), userHandler.Update)
		users.DELETE("/:id", middleware.RBAC(models.RoleNameAdmin), userHandler.Delete)
	}

	roles := api.Group("/roles", middleware.JWT(tokenSvc), middleware.RBAC(models.RoleNameAdmin))
	{
		roles.GET("", roleHandler.List)
		roles.POST("", roleHandler.Create)
		roles.GET("/:id", roleHandler.Get)
		roles.PUT("/:id", roleHandler.Update)
		roles.DELETE("/:id", roleHandler.Delete)
		roles.POST("/:id/users/:user_id", roleHandler.Assign)
		roles.DELETE("/:id/users/:user_id", roleHandler.Remove)
	}

	if cfg.Reports.Enabled {
		reports := api.Group("/reports", middleware.JWT(tokenSvc), middleware.RBAC(models.RoleNameAdmin))
		reports.GET("/sessions", reportHandler.Sessions)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
		os.Exit(1)
	}
	logr.Sugar().Infow("server stopped")
}
