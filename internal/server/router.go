package server

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/auth"
	"chat-sync/internal/config"
	"chat-sync/internal/handler"
	"chat-sync/internal/hub"
	"chat-sync/internal/middleware"
	"chat-sync/internal/service"
)

type Deps struct {
	Service     *service.Service
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	RateLimit   config.RateLimitConfig
	// AILimiter guards the AI routes. When nil one is built from RateLimit
	// and lives as long as the process.
	AILimiter *middleware.RateLimiter
	Logger    *log.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if deps.Logger != nil {
		r.Use(middleware.RequestLogger(deps.Logger))
	} else {
		r.Use(gin.Logger())
	}
	if deps.Hub == nil {
		deps.Hub = hub.New()
	}

	r.GET("/health", func(c *gin.Context) {
		if err := deps.Service.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "Storage unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	shareHandler := &handler.ShareHandler{Service: deps.Service, Log: deps.Logger}
	r.GET("/api/share/:id", shareHandler.Public)

	protected := r.Group("/api")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	conversationHandler := &handler.ConversationHandler{Service: deps.Service, Log: deps.Logger}
	protected.GET("/conversations", conversationHandler.List)
	protected.POST("/conversations", conversationHandler.Create)
	protected.GET("/conversations/:id", conversationHandler.Get)
	protected.PATCH("/conversations/:id", conversationHandler.Update)
	protected.DELETE("/conversations/:id", conversationHandler.Delete)
	protected.GET("/conversations/:id/preview", conversationHandler.Preview)
	protected.POST("/conversations/:id/branch", conversationHandler.Branch)
	protected.GET("/conversations/:id/projects", conversationHandler.Projects)

	messageHandler := &handler.MessageHandler{Service: deps.Service, Log: deps.Logger}
	protected.GET("/conversations/:id/messages", messageHandler.List)
	protected.POST("/conversations/:id/messages", messageHandler.Create)
	protected.PATCH("/messages/:id", messageHandler.Update)
	protected.DELETE("/messages/:id", messageHandler.Delete)

	limiter := deps.AILimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(deps.RateLimit.AIRequests, deps.RateLimit.AIWindow)
	}
	aiHandler := &handler.AIHandler{Service: deps.Service, Log: deps.Logger}
	aiLimit := middleware.RateLimitMiddleware(limiter)
	protected.POST("/conversations/:id/title", aiLimit, aiHandler.GenerateTitle)
	protected.POST("/followups", aiLimit, aiHandler.Followups)

	projectHandler := &handler.ProjectHandler{Service: deps.Service, Log: deps.Logger}
	protected.GET("/projects", projectHandler.List)
	protected.POST("/projects", projectHandler.Create)
	protected.GET("/projects/mapping", projectHandler.Mapping)
	protected.PATCH("/projects/:id", projectHandler.Rename)
	protected.DELETE("/projects/:id", projectHandler.Delete)
	protected.POST("/projects/:id/conversations", projectHandler.Link)
	protected.DELETE("/projects/:id/conversations/:conversationId", projectHandler.Unlink)

	protected.GET("/shares", shareHandler.List)
	protected.POST("/shares", shareHandler.Create)
	protected.DELETE("/shares/:id", shareHandler.Delete)

	syncHandler := &handler.SyncHandler{Service: deps.Service}
	protected.GET("/sync/version", syncHandler.Version)
	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Service: deps.Service, Log: deps.Logger}
	protected.GET("/sync/ws", wsHandler.Serve)

	return r
}
