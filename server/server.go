package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/drowsiness-cv/server/cache"
	"github.com/san-kum/drowsiness-cv/server/config"
	"github.com/san-kum/drowsiness-cv/server/handlers"
	"github.com/san-kum/drowsiness-cv/server/metrics"
	"github.com/san-kum/drowsiness-cv/server/middleware"
	"github.com/san-kum/drowsiness-cv/server/ml"
	"github.com/san-kum/drowsiness-cv/server/processor"
	"github.com/san-kum/drowsiness-cv/server/session"
	"go.uber.org/zap"
)

type Server struct {
	router         *gin.Engine
	logger         *zap.Logger
	frameProcessor *processor.FrameProcessor
	cache          cache.Cache
	rateLimiter    *middleware.RateLimiter
	metrics        *metrics.Metrics
	config         *config.Config
}

// NewServer wires the processing pipeline and the router. The artifacts
// must already be loaded and validated.
func NewServer(cfg *config.Config, artifacts *ml.Artifacts, detector processor.Detector, logger *zap.Logger) *Server {
	cacheInstance := newCache(cfg, logger)
	m := metrics.New()

	tracker := session.NewTracker(cacheInstance, session.Config{
		Window: cfg.Session.Window,
		TTL:    cfg.Session.TTL,
	}, logger)

	frameProcessor := processor.NewFrameProcessor(processor.Dependencies{
		Detector:  detector,
		Artifacts: artifacts,
		Cache:     cacheInstance,
		Sessions:  tracker,
		Metrics:   m,
		Logger:    logger,
	}, &processor.ProcessorConfig{
		MaxQueueSize:      cfg.Processor.MaxQueueSize,
		MaxWorkers:        cfg.Processor.MaxWorkers,
		ProcessingTimeout: cfg.Processor.ProcessingTimeout,
		CacheResults:      cfg.Processor.CacheResults,
	})

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.JWTSecretKey, logger)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
	router.Use(middleware.InputValidation())
	router.Use(middleware.TimeoutHandler(cfg.Security.RequestTimeout))

	wsHandler := handlers.NewWebSocketHandler(frameProcessor, rateLimiter, m, logger)
	predictHandler := handlers.NewPredictHandler(frameProcessor, logger)

	setupRoutes(router, artifacts.Version, m, wsHandler, predictHandler, authMiddleware, rateLimiter)

	return &Server{
		router:         router,
		logger:         logger,
		frameProcessor: frameProcessor,
		cache:          cacheInstance,
		rateLimiter:    rateLimiter,
		metrics:        m,
		config:         cfg,
	}
}

// newCache prefers Redis when REDIS_HOST is set and falls back to memory.
func newCache(cfg *config.Config, logger *zap.Logger) cache.Cache {
	if cfg.Redis.Host != "" {
		redisCache, err := cache.NewRedisCache(cache.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		}, cfg.Processor.CacheTTL, logger)
		if err == nil {
			return redisCache
		}
		logger.Warn("Failed to connect to Redis, using memory cache", zap.Error(err))
	}

	return cache.NewMemoryCache(cfg.Processor.CacheSize, cfg.Processor.CacheTTL, logger)
}

func setupRoutes(router *gin.Engine, modelVersion string, m *metrics.Metrics, wsHandler *handlers.WebSocketHandler, predictHandler *handlers.PredictHandler, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) {
	router.GET("/health", middleware.HealthCheck(modelVersion))
	router.GET("/metrics", gin.WrapH(m.Handler()))

	router.GET("/ws", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck(modelVersion))

		limited := api.Group("/")
		limited.Use(rateLimiter.RateLimit())
		{
			limited.POST("/predict", predictHandler.Predict)
			limited.GET("/model", predictHandler.ModelInfo)
			limited.GET("/stats", predictHandler.GetStats)
			limited.GET("/sessions/:id", predictHandler.GetSession)
			limited.DELETE("/sessions/:id", predictHandler.ResetSession)
		}

		admin := api.Group("/admin")
		admin.Use(auth.RequireAuth())
		admin.Use(auth.RequireRole("admin"))
		{
			admin.GET("/stats", predictHandler.GetStats)
			admin.GET("/cache-stats", predictHandler.CacheStats)
			admin.GET("/rate-limit", func(c *gin.Context) {
				c.JSON(http.StatusOK, rateLimiter.GetGlobalStats())
			})
		}
	}
}

// Shutdown stops the workers before closing the cache they write to.
func (s *Server) Shutdown(ctx context.Context) {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	if err := s.frameProcessor.Shutdown(timeout); err != nil {
		s.logger.Error("Failed to shutdown frame processor", zap.Error(err))
	}

	s.rateLimiter.Shutdown()

	if err := s.cache.Close(); err != nil {
		s.logger.Error("Failed to close cache", zap.Error(err))
	}
}
