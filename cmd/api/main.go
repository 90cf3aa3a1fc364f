package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"visionchat_go_backend/cmd/api/config"
	"visionchat_go_backend/internal/api"
	"visionchat_go_backend/internal/auth"
	"visionchat_go_backend/internal/database"
	"visionchat_go_backend/internal/models"
	"visionchat_go_backend/internal/services"
	"visionchat_go_backend/internal/utils/broker"
	"visionchat_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	database.InitDB()

	gcsStorage, err := services.NewGCSStorage(ctx, cfg.GCSBucketName, cfg.GoogleCredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}

	ocrService := services.NewOCRService(
		cfg.VisionEndpoint,
		cfg.VisionAPIKey,
		cfg.OCRPollInterval,
		cfg.OCRMaxPollAttempts,
		log.With().Str("service", "ocr").Logger(),
	)

	completionService := services.NewCompletionService(
		cfg.CompletionBaseURL,
		cfg.CompletionAPIKey,
		cfg.CompletionModel,
		cfg.CompletionTemperature,
		cfg.CompletionMaxTokens,
		cfg.CompletionTopP,
		log.With().Str("service", "completion").Logger(),
	)

	chatStore := services.NewChatStore(database.DB, log.With().Str("service", "chat_store").Logger())
	userStore := services.NewUserStore(database.DB)

	events := broker.NewBroker()
	orchestrator := services.NewChatOrchestrator(
		chatStore,
		completionService,
		events,
		cfg.FreeTurnLimit,
		log.With().Str("service", "orchestrator").Logger(),
	)

	intakeGate := services.NewFileIntakeGate(cfg.MaxUploadBytes, cfg.MaxDirectOCRBytes)
	fileService := services.NewFileService(
		intakeGate,
		gcsStorage,
		ocrService,
		chatStore,
		log.With().Str("service", "files").Logger(),
	)

	r := gin.Default()

	// CORS middleware configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(cfg.AllowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", auth.SessionHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // TODO: restrict to AllowedOrigins before exposing publicly
		},
	}
	wsHandler := wsocket.NewHandler(orchestrator, upgrader, events, log.With().Str("service", "wsocket").Logger())

	api.SetupRoutes(r, orchestrator, fileService, chatStore, userStore, cfg.JWTSecret)
	auth.SetupRoutes(r, userStore, cfg.JWTSecret)

	r.GET("/ws", auth.OptionalAuthMiddleware(userStore, cfg.JWTSecret), func(c *gin.Context) {
		token := c.GetHeader(auth.SessionHeader)
		if token == "" {
			token = c.Query("session")
		}
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "A session token is required"})
			return
		}
		var user *models.User
		if v, exists := c.Get("user"); exists {
			user, _ = v.(*models.User)
		}
		wsHandler.HandleWebSocket(c.Writer, c.Request, token, user)
	})

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
