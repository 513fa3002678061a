package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), "chat-sync", getEnv("OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	publisher := observability.NewPublisher(getEnv("AMQP_URL", ""), getEnv("AMQP_EXCHANGE", "chat.events"))
	observability.SetPublisher(publisher)
	defer publisher.Close()

	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-sync", getEnv("ENVIRONMENT", "development"))

	userRepo := repositories.NewUserRepo(database)
	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub(roomRepo)
	gateway := ws.NewGateway(hub, userRepo, roomRepo, messageRepo)

	uploadDir := getEnv("UPLOAD_DIR", "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		log.Fatalf("failed to create upload dir: %v", err)
	}

	roomHandler := handlers.NewRoomHandler(roomRepo, messageRepo, userRepo, hub, uploadDir)
	groupHandler := handlers.NewGroupHandler(roomRepo, userRepo, hub, audit)
	usersHandler := handlers.NewUsersHandler(userRepo)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/uploads", uploadDir)

	authMiddleware := middleware.AuthMiddleware(userRepo)
	api := router.Group("/api", authMiddleware)

	api.GET("/rooms", roomHandler.ListRooms)
	api.POST("/rooms/direct", roomHandler.StartDirect)
	api.GET("/rooms/:room_id/messages", roomHandler.GetRoomMessages)
	api.POST("/rooms/:room_id/messages", roomHandler.PostRoomMessage)
	api.POST("/rooms/:room_id/media", roomHandler.UploadMedia)

	api.GET("/users", usersHandler.ListUsers)

	api.POST("/groups", groupHandler.CreateGroup)
	api.GET("/groups/:group_id", groupHandler.GroupDetail)
	api.POST("/groups/:group_id/members", groupHandler.AddMembers)
	api.DELETE("/groups/:group_id/members/:user_id", groupHandler.RemoveMember)
	api.POST("/groups/:group_id/leave", groupHandler.LeaveGroup)
	api.DELETE("/groups/:group_id", groupHandler.DeleteGroup)

	router.GET("/ws", gateway.Handle)

	handlers.RegisterDebugRoutes(router, audit, getEnv("DEBUG_ROUTES", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
