package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"findit/internal/infra/config"
	"findit/internal/infra/obs"
	"findit/internal/infra/ratelimit"
)

type ChatHTTP interface {
	CreateConversation(c *gin.Context)
	ListConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
}

type ListingHTTP interface {
	Search(c *gin.Context)
	Get(c *gin.Context)
	Create(c *gin.Context)
	ChangeStatus(c *gin.Context)
	Delete(c *gin.Context)
	Comments(c *gin.Context)
	AddComment(c *gin.Context)
}

type UserHTTP interface {
	Me(c *gin.Context)
	UpdateMe(c *gin.Context)
	Profile(c *gin.Context)
}

type AuthHTTP interface {
	DevLogin(c *gin.Context)
}

type RealtimeHTTP interface {
	Serve(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	Listing        ListingHTTP
	User           UserHTTP
	Auth           AuthHTTP
	Realtime       RealtimeHTTP
	AuthMiddleware gin.HandlerFunc

	// MessageLimiter and ListingLimiter guard message sends and listing creation.
	MessageLimiter ratelimit.Limiter
	ListingLimiter ratelimit.Limiter
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the engine without touching the global gin mode.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	binding.EnableDecoderDisallowUnknownFields = true

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Realtime != nil {
		router.GET("/ws", h.Realtime.Serve)
	}

	api := router.Group("/api")
	if h.Auth != nil {
		api.POST("/auth/dev-login", h.Auth.DevLogin)
	}
	if h.User != nil {
		api.GET("/users/me", h.User.Me)
		api.PATCH("/users/me", h.User.UpdateMe)
		api.GET("/users/:id", h.User.Profile)
	}
	if h.Listing != nil {
		listings := api.Group("/listings")
		listings.GET("", h.Listing.Search)
		listings.POST("", RateLimit(h.ListingLimiter, "listing", obsMW.Logger), h.Listing.Create)
		listings.GET("/:id", h.Listing.Get)
		listings.PATCH("/:id/status", h.Listing.ChangeStatus)
		listings.DELETE("/:id", h.Listing.Delete)
		listings.GET("/:id/comments", h.Listing.Comments)
		listings.POST("/:id/comments", h.Listing.AddComment)
	}
	if h.Chat != nil {
		chats := api.Group("/chats")
		chats.POST("", h.Chat.CreateConversation)
		chats.GET("", h.Chat.ListConversations)
		chats.GET("/:id/messages", h.Chat.ListMessages)
		chats.POST("/:id/messages", RateLimit(h.MessageLimiter, "message", obsMW.Logger), h.Chat.SendMessage)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", obs.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
