package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/colabhq/pulse/internal/bus"
	"github.com/colabhq/pulse/internal/cache"
	"github.com/colabhq/pulse/internal/handlers"
	"github.com/colabhq/pulse/internal/httpx"
	"github.com/colabhq/pulse/internal/middleware"
	"github.com/colabhq/pulse/internal/repository"
	"github.com/colabhq/pulse/internal/service"
	"github.com/colabhq/pulse/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	if os.Getenv("JWT_SECRET") == "" {
		log.Fatal("JWT_SECRET is required")
	}

	app := fiber.New(fiber.Config{
		AppName: "Pulse Delivery Backend",
		// Attachment uploads up to 25MB + multipart overhead.
		BodyLimit: 28 * 1024 * 1024,
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     os.Getenv("ALLOWED_ORIGINS"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Last-Event-ID",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	db, err := repository.InitDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Redis is best-effort: typing indicators and member list caching degrade
	// to database reads when it is down.
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsed, err := strconv.Atoi(dbStr); err == nil {
			redisDB = parsed
		}
	}
	redisCache := cache.NewRedisCache(redisAddr, os.Getenv("REDIS_PASSWORD"), redisDB)
	if err := redisCache.Ping(); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running without cache.", err)
		redisCache = nil
	} else {
		log.Println("Redis cache connected successfully")
	}

	typingCache := cache.NewTypingCache(redisCache, cache.DefaultTypingTTL)
	memberCache := cache.NewMemberCache(redisCache)

	// Publish bus: one registry of live push streams per process.
	heartbeat := 25 * time.Second
	if hbStr := os.Getenv("HEARTBEAT_SECONDS"); hbStr != "" {
		if parsed, err := strconv.Atoi(hbStr); err == nil && parsed > 0 {
			heartbeat = time.Duration(parsed) * time.Second
		}
	}
	registry := bus.NewRegistry(bus.RegistryConf{HeartbeatEvery: heartbeat})

	channelRepo := repository.NewChannelRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	txManager := repository.NewGormTxManager(db)

	notifier := service.NewNotifier(notifRepo, service.LogPushProvider{})
	messageService := service.NewMessageService(
		channelRepo, messageRepo, notifRepo, deliveryRepo,
		txManager, registry, notifier, memberCache,
	)

	// Object storage is best-effort; attachment endpoints answer 503 if missing.
	var attachmentStore *storage.AttachmentStore
	if cfg, err := storage.LoadS3ConfigFromEnv(); err != nil {
		log.Printf("WARNING: attachment storage not configured: %v", err)
	} else if st, err := storage.NewAttachmentStore(cfg); err != nil {
		log.Printf("WARNING: failed to initialize attachment storage: %v", err)
	} else {
		attachmentStore = st
		log.Printf("Attachment storage initialized (bucket=%s)", cfg.Bucket)
	}

	streamHandler := handlers.NewStreamHandler(registry)
	messageHandler := handlers.NewMessageHandler(messageService)
	readHandler := handlers.NewReadHandler(messageService, notifRepo)
	typingHandler := handlers.NewTypingHandler(typingCache, channelRepo, memberCache, registry)
	attachmentHandler := handlers.NewAttachmentHandler(attachmentStore, channelRepo)

	api := app.Group("/api", middleware.OriginAllowed(), middleware.AuthRequired())

	// Push streams
	api.Get("/stream", streamHandler.Stream)

	// Messages
	sendLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid, err := httpx.LocalUint(c, "userID"); err == nil {
				return "send:" + strconv.FormatUint(uint64(uid), 10)
			}
			return c.IP()
		},
	})
	api.Post("/channels/:id/messages", sendLimiter, messageHandler.SendMessage)
	api.Get("/channels/:id/messages", messageHandler.GetMessages)
	api.Put("/messages/:id", messageHandler.EditMessage)
	api.Delete("/messages/:id", messageHandler.DeleteMessage)

	// Read cursors and notifications
	api.Post("/channels/:id/read", readHandler.MarkRead)
	api.Get("/channels/:id/notifications", readHandler.ListUnread)
	api.Post("/notifications/read", readHandler.MarkNotificationsRead)

	// Typing indicators
	api.Post("/channels/:id/typing/start", typingHandler.Start)
	api.Post("/channels/:id/typing/stop", typingHandler.Stop)
	api.Get("/channels/:id/typing", typingHandler.Active)

	// Attachments
	api.Post("/channels/:id/attachments", attachmentHandler.Upload)
	api.Get("/channels/:id/attachments/*", attachmentHandler.Download)
	api.Get("/channels/:id/attachment-urls/*", attachmentHandler.PresignURL)

	// WebSocket route (websocket upgrade needs special handling)
	app.Use(
		"/ws",
		middleware.OriginAllowed(),
		middleware.AuthRequired(),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(streamHandler.HandleWebSocket))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Pulse is running",
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Shut the stream registry down cleanly so connected clients get a close
	// frame instead of a dropped socket.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutting down...")
		registry.Close()
		_ = app.Shutdown()
	}()

	log.Printf("Server starting on port %s...", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
