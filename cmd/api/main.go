package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/taskora/taskora-api/api/swagger"
	"github.com/taskora/taskora-api/internal/handler"
	"github.com/taskora/taskora-api/internal/middleware"
	"github.com/taskora/taskora-api/internal/password"
	"github.com/taskora/taskora-api/internal/repository"
	"github.com/taskora/taskora-api/internal/service"
	"github.com/taskora/taskora-api/internal/token"
	"github.com/taskora/taskora-api/pkg/cache"
	"github.com/taskora/taskora-api/pkg/config"
	"github.com/taskora/taskora-api/pkg/database"
	"github.com/taskora/taskora-api/pkg/jobs"
	"github.com/taskora/taskora-api/pkg/logger"
	corsmiddleware "github.com/taskora/taskora-api/pkg/middleware/cors"
	reqidmiddleware "github.com/taskora/taskora-api/pkg/middleware/requestid"
)

// @title Taskora API
// @version 1.0.0
// @description Account registration, authentication and session lifecycle
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}

	accounts := repository.NewAccountRepository(db)
	sessions := repository.NewSessionRepository(db)

	issuer := token.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.AccessExpiry, cfg.Auth.RefreshExpiry)
	verifier := token.NewVerifier(cfg.Auth.Secret)
	hasher := password.NewHasher(cfg.Auth.BcryptCost)

	metrics := service.NewMetricsService()
	authService := service.NewAuthService(accounts, sessions, issuer, verifier, hasher, validator.New(), metrics, logr)

	runner := jobs.NewRunner(logr)
	runner.Add(jobs.Job{
		Name:     "sessions.cleanup",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			// Rows stay queryable for a day past expiry, then get swept.
			cutoff := time.Now().UTC().Add(-24 * time.Hour)
			deleted, err := sessions.DeleteExpiredBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			if deleted > 0 {
				logr.Sugar().Infow("expired sessions deleted", "count", deleted)
			}
			return nil
		},
	})
	runner.Start(context.Background())
	defer runner.Stop()

	authHandler := handler.NewAuthHandler(authService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	credentialLimiter := middleware.RateLimit(redisClient, cfg.RateLimit, logr)
	auth.POST("/signup", credentialLimiter, authHandler.Signup)
	auth.POST("/login", credentialLimiter, authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", middleware.Auth(verifier), authHandler.Me)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
