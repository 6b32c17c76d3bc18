package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"perf-agent-server/shared/middleware"
)

const defaultAllowedOrigin = "http://localhost:3000"

// RouterConfig holds the HTTP settings that do not belong to a handler.
type RouterConfig struct {
	Debug          bool
	AllowedOrigins []string
	// LogLevel, when set, is served on GET/PUT /log/level (see zap.AtomicLevel).
	LogLevel http.Handler
}

// NewRouter builds the gin engine: logging, recovery, CORS, health, the plan
// routes under /api/v1 and Prometheus metrics on /metrics.
func NewRouter(cfg RouterConfig, plans *PlanHandler, logger *zap.Logger) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{defaultAllowedOrigin}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", middleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Must run before the routes are added; gin copies the middleware chain per route.
	p.Use(router)

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	if cfg.LogLevel != nil {
		router.GET("/log/level", gin.WrapH(cfg.LogLevel))
		router.PUT("/log/level", gin.WrapH(cfg.LogLevel))
	}

	plans.RegisterRoutes(router.Group("/api/v1"))
	return router
}
