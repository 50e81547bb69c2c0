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
	"go.uber.org/zap"

	"workchat-backend/internal/config"
	callHandler "workchat-backend/internal/handler/http/call"
	chatHandler "workchat-backend/internal/handler/http/chat"
	contactHandler "workchat-backend/internal/handler/http/contact"
	conversationHandler "workchat-backend/internal/handler/http/conversation"
	invitationHandler "workchat-backend/internal/handler/http/invitation"
	wsHandler "workchat-backend/internal/handler/ws"
	"workchat-backend/internal/middleware"
	"workchat-backend/internal/repository/cassandra"
	"workchat-backend/internal/repository/cockroach"
	redisrepo "workchat-backend/internal/repository/redis"
	callService "workchat-backend/internal/service/call"
	chatService "workchat-backend/internal/service/chat"
	contactService "workchat-backend/internal/service/contact"
	conversationService "workchat-backend/internal/service/conversation"
	invitationService "workchat-backend/internal/service/invitation"
	"workchat-backend/internal/service/notification"
	presenceService "workchat-backend/internal/service/presence"
	receiptService "workchat-backend/internal/service/receipt"
	storageService "workchat-backend/internal/service/storage"
	"workchat-backend/pkg/database"
	"workchat-backend/pkg/env"
	"workchat-backend/pkg/logger"
	"workchat-backend/pkg/metrics"
	"workchat-backend/pkg/rtc"
)

const ringSweepInterval = 10 * time.Second

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		logger.InitDefault()
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		logger.InitDefault()
		logger.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx := context.Background()

	// 2. Data stores
	cockroachDB, err := database.NewCockroachDB(ctx, &cfg.Cockroach)
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("connected to CockroachDB", zap.String("database", cfg.Cockroach.Database))

	cassandraSession, err := database.NewCassandraSession(&cfg.Cassandra)
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraSession.Close()
	logger.Info("connected to Cassandra", zap.String("keyspace", cfg.Cassandra.Keyspace))

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("connected to Redis", zap.String("host", cfg.Redis.Host))

	// 3. Repositories
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	participantRepo := cockroach.NewParticipantRepository(cockroachDB.Pool)
	callRepo := cockroach.NewCallRepository(cockroachDB.Pool)
	contactRepo := cockroach.NewContactRepository(cockroachDB.Pool)
	invitationRepo := cockroach.NewInvitationRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraSession)
	presenceRepo := redisrepo.NewPresenceRepository(redisClient)
	settingsRepo := redisrepo.NewSettingsRepository(redisClient)
	directoryRepo := redisrepo.NewDirectoryRepository(redisClient)
	pubsubRepo := redisrepo.NewPubSubRepository(redisClient)

	// 4. Metrics
	appMetrics := metrics.New(cfg.Server.ServiceName)

	// 5. Supporting infrastructure
	storageSvc, err := storageService.NewService(&cfg.MinIO)
	if err != nil {
		logger.Fatal("failed to initialize object storage", zap.Error(err))
	}
	if err := storageSvc.EnsureBucket(ctx); err != nil {
		logger.Fatal("failed to ensure attachment bucket", zap.Error(err))
	}

	notifier := notification.NewEmailNotifier(&cfg.SMTP)
	tokenIssuer := rtc.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.RoomTokenTTL)

	// 6. Services
	chatSvc := chatService.NewService(messageRepo, conversationRepo, participantRepo, pubsubRepo, appMetrics)

	conversationSvc := conversationService.NewService(conversationRepo, participantRepo)
	conversationSvc.SetMessageAppender(chatSvc)

	receiptSvc := receiptService.NewService(messageRepo, conversationRepo, participantRepo, settingsRepo, pubsubRepo, appMetrics)
	presenceSvc := presenceService.NewService(participantRepo, presenceRepo)
	callSvc := callService.NewService(callRepo, participantRepo, chatSvc, tokenIssuer, pubsubRepo, appMetrics)
	contactSvc := contactService.NewService(contactRepo, directoryRepo)

	inviteBaseURL := env.GetString("INVITE_BASE_URL", "https://app.workchat.local/invitations")
	invitationSvc := invitationService.NewService(
		invitationRepo,
		conversationRepo,
		participantRepo,
		contactRepo,
		notifier,
		chatSvc,
		func(token string) string {
			return fmt.Sprintf("%s/%s", inviteBaseURL, token)
		},
	)

	// Ring-timeout sweeper: calls that ring out become missed calls.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go callSvc.RunRingTimeoutSweeper(sweepCtx, ringSweepInterval)

	// 7. Handlers
	conversationHdlr := conversationHandler.NewHandler(conversationSvc)
	chatHdlr := chatHandler.NewHandler(chatSvc, receiptSvc, presenceSvc, storageSvc)
	callHdlr := callHandler.NewHandler(callSvc)
	contactHdlr := contactHandler.NewHandler(contactSvc)
	invitationHdlr := invitationHandler.NewHandler(invitationSvc)
	hub := wsHandler.NewHub(pubsubRepo, chatSvc, presenceSvc, appMetrics)

	// 8. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.HealthCheck(cfg.Server.ServiceName))
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.PrometheusMiddleware(appMetrics))

	router.GET("/metrics", gin.WrapH(appMetrics.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	{
		conversationHdlr.RegisterRoutes(v1)
		chatHdlr.RegisterRoutes(v1)
		callHdlr.RegisterRoutes(v1)
		contactHdlr.RegisterRoutes(v1)
		invitationHdlr.RegisterRoutes(v1)
		v1.GET("/ws", hub.ServeWS)
	}

	public := router.Group("/v1")
	public.Use(middleware.OptionalAuthMiddleware(cfg.Auth.JWTSecret))
	{
		invitationHdlr.RegisterPublicRoutes(public)
	}

	// 9. Serve
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("chat service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
