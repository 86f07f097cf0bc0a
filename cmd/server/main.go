// Package main runs the team workspace HTTP server with WebSocket fan-out and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teamloop/backend/config"
	"github.com/teamloop/backend/internal/activity"
	"github.com/teamloop/backend/internal/auth"
	"github.com/teamloop/backend/internal/members"
	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/organizations"
	"github.com/teamloop/backend/internal/realtime"
	"github.com/teamloop/backend/internal/store"
	"github.com/teamloop/backend/pkg/database"
	"github.com/teamloop/backend/pkg/queue"
	"github.com/teamloop/backend/pkg/redis"
	"github.com/teamloop/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	tokens := auth.NewTokenService(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		time.Duration(cfg.JWT.AccessExpireMinutes)*time.Minute,
		time.Duration(cfg.JWT.RefreshExpireDays)*24*time.Hour,
	)

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	st := store.NewPostgres(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	authService := auth.NewService(st, tokens, logger)
	authHandler := auth.NewHandler(authService, logger)

	memberService := members.NewService(st, hub, jobQueue, time.Duration(cfg.Invite.ExpireHours)*time.Hour, logger)
	memberHandler := members.NewHandler(memberService, logger)

	orgService := organizations.NewService(st, hub, logger)
	orgHandler := organizations.NewHandler(orgService, logger)

	activityHandler := activity.NewHandler(st, logger)

	verify := func(token string) (userID, orgID uuid.UUID, role models.Role, err error) {
		claims, err := tokens.VerifyAccessToken(token)
		if err != nil {
			return uuid.Nil, uuid.Nil, "", err
		}
		return claims.UserID, claims.OrganizationID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	// Invite acceptance (public; the token authenticates the request)
	router.POST("/users/accept-invite", memberHandler.AcceptInvite)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(tokens))
	{
		api.POST("/auth/logout", authHandler.Logout)

		api.GET("/users", middleware.RequireRole(models.RoleAdmin), memberHandler.List)
		api.POST("/users/invite", middleware.RequireRole(models.RoleAdmin), memberHandler.Invite)
		api.DELETE("/users/:id", middleware.RequireRole(models.RoleAdmin), memberHandler.Remove)

		api.GET("/organizations", orgHandler.Get)
		api.PATCH("/organizations/subscription", middleware.RequireRole(models.RoleAdmin), orgHandler.UpgradePlan)
		api.POST("/organizations/broadcast", middleware.RequireRole(models.RoleAdmin), orgHandler.Broadcast)
		api.GET("/organizations/connections", middleware.RequireRole(models.RoleAdmin), orgHandler.Connections)

		api.GET("/activities", activityHandler.List)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, verify))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
