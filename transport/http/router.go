package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairgate/adapters/tokenizer"
	"github.com/layer-3/pairgate/ports"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterOptions configures the control surface
type RouterOptions struct {
	APIKeys   []string
	Tokenizer ports.Tokenizer

	// RateLimit and RateBurst bound requests per client IP on /api.
	RateLimit rate.Limit
	RateBurst int
	// ConnectLimit and ConnectBurst additionally bound connect requests per client IP.
	ConnectLimit rate.Limit
	ConnectBurst int

	// Metrics is served unauthenticated on /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(manager SessionManager, opts RouterOptions) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log.Named("http")))

	handlers := NewSessionHandlers(manager, log)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody("endpoint not found"))
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := router.Group("/api")
	if opts.RateLimit > 0 {
		api.Use(RateLimitMiddleware(opts.RateLimit, opts.RateBurst))
	}
	api.GET("/health", handlers.Health)

	connectLimit := func(c *gin.Context) { c.Next() }
	if opts.ConnectLimit > 0 {
		connectLimit = RateLimitMiddleware(opts.ConnectLimit, opts.ConnectBurst)
	}

	// Protected API routes
	protected := api.Group("")
	protected.Use(AuthMiddleware(opts.APIKeys, opts.Tokenizer))
	{
		protected.GET("/sessions", handlers.List)
		protected.GET("/sessions/:identity", handlers.Info)
		protected.GET("/stats", handlers.Stats)

		admin := protected.Group("")
		admin.Use(RequireScope(tokenizer.ScopeAdmin))
		admin.POST("/sessions/:identity/connect", connectLimit, handlers.Connect)
		admin.DELETE("/sessions/:identity", handlers.Delete)
		admin.DELETE("/session/:identity", handlers.Delete)
		admin.GET("/getcode", connectLimit, handlers.GetCode)
	}

	return router
}

func errorBody(message string) gin.H {
	return gin.H{"status": "error", "message": message}
}
