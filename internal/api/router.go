package api

import (
	"github.com/gin-gonic/gin"

	"github.com/avolkov/ragchat/internal/api/chat"
	"github.com/avolkov/ragchat/internal/api/document"
	"github.com/avolkov/ragchat/internal/api/middleware"
	"github.com/avolkov/ragchat/internal/service"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
}

// SetupRouter sets up the Gin router
func SetupRouter(
	chatService *service.ChatService,
	ingestService *service.IngestService,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(middleware.Auth(cfg.APIKey))

	chatHandler := chat.NewHandler(chatService)
	chatHandler.RegisterRoutes(api.Group("/chats"))

	documentHandler := document.NewHandler(ingestService)
	documentHandler.RegisterRoutes(api.Group(""))

	return r
}
