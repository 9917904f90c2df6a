package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/config"
	"github.com/karyadesign/karya-api/internal/database"
	"github.com/karyadesign/karya-api/internal/handler"
	"github.com/karyadesign/karya-api/internal/middleware"
	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/realtime"
	"github.com/karyadesign/karya-api/internal/repository"
	"github.com/karyadesign/karya-api/internal/router"
	"github.com/karyadesign/karya-api/internal/service"
	cloud "github.com/karyadesign/karya-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Profile{}, &models.DesignOrder{}, &models.ChatRoom{}, &models.ChatMessage{}, &models.Notification{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	feed := realtime.NewRedisFeed(redisClient, logger)

	orderRepo := repository.NewOrderRepository(db)
	chatRepo := repository.NewChatRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	quietHours := service.QuietHours{
		Enabled: cfg.QuietHoursEnabled,
		Start:   cfg.QuietHoursStart,
		End:     cfg.QuietHoursEnd,
	}

	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.ChannelBase, natsConn, quietHours, validate, logger)
	chatService := service.NewChatService(chatRepo, orderRepo, feed, cfg.ChannelBase, redisClient, natsConn, validate, logger)
	orderService := service.NewOrderService(orderRepo, chatRepo, feed, cfg.ChannelBase, notificationService, validate, logger)
	uploadService := service.NewUploadService(uploader, chatService, cfg.UploadMaxMB, logger)

	runCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()
	chatService.Start(runCtx)
	notificationService.Start(runCtx)

	sessionDeps := realtime.SessionDeps{
		Orders:           orderRepo,
		Chat:             chatRepo,
		Profiles:         profileRepo,
		Feed:             feed,
		Logger:           logger,
		TopicBase:        cfg.ChannelBase,
		BootstrapTimeout: cfg.SyncBootstrapTimeout,
	}

	orderHandler := handler.NewOrderHandler(orderService, validate, logger)
	chatHandler := handler.NewChatHandler(chatService, validate, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger, cfg.SSEKeepAlive)
	uploadHandler := handler.NewUploadHandler(uploadService, logger)
	syncHandler := handler.NewSyncHandler(sessionDeps, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		OrderHandler:        orderHandler,
		ChatHandler:         chatHandler,
		NotificationHandler: notificationHandler,
		UploadHandler:       uploadHandler,
		SyncHandler:         syncHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
