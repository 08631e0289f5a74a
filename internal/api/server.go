package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/auth"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/cache"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/database"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/events"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/feed"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/learning"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/patterns"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/posture"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// EngineAPI is the surface the trend engine exposes to the API. Positions are
// addressed by their canonical "token:chain:timeframe" key.
type EngineAPI interface {
	Snapshot(position string) (trend.EngineSnapshot, bool)
	Snapshots() []trend.EngineSnapshot
	PositionCount() int
	ReportTrade(ctx context.Context, ev patterns.PatternTradeEvent) error
}

// LearningAPI triggers and inspects learning cycles.
type LearningAPI interface {
	RunCycle(ctx context.Context) (learning.CycleResult, error)
	Status() (learning.CycleResult, bool)
	Cycles() int64
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	logger      zerolog.Logger
	engine      EngineAPI
	calculator  *posture.Calculator
	thresholds  *cache.ThresholdCache
	learning    LearningAPI // Can be nil if the learning loop is disabled
	repo        *database.Repository
	engineState *database.RedisEngineStateRepository // Can be nil if redis is disabled
	consumer    *feed.BarConsumer                    // Can be nil if the feed is disabled
	eventBus    *events.EventBus
	authService *auth.Service
	authEnabled bool
	rateLimiter *RateLimiter
	hub         *WSHub
	startedAt   time.Time
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	engine EngineAPI,
	calculator *posture.Calculator,
	thresholds *cache.ThresholdCache,
	learningLoop LearningAPI, // Can be nil if learning is disabled
	repo *database.Repository,
	engineState *database.RedisEngineStateRepository, // Can be nil if redis is disabled
	consumer *feed.BarConsumer, // Can be nil if the feed is disabled
	eventBus *events.EventBus,
	authService *auth.Service, // Can be nil if auth is disabled
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	log := logger.With().Str("component", "APIServer").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      cfg,
		logger:      log,
		engine:      engine,
		calculator:  calculator,
		thresholds:  thresholds,
		learning:    learningLoop,
		repo:        repo,
		engineState: engineState,
		consumer:    consumer,
		eventBus:    eventBus,
		authService: authService,
		authEnabled: authService != nil,
		rateLimiter: NewRateLimiter(240, time.Minute),
		hub:         NewWSHub(log),
		startedAt:   time.Now(),
	}

	server.setupRoutes()

	// The hub relays every bus event to connected websocket clients.
	go server.hub.Run()
	if eventBus != nil {
		eventBus.SubscribeAll(server.hub.BroadcastEvent)
	}

	return server
}

// requestLogger logs one line per request with a generated request ID. The ID
// is echoed back so operators can quote it when reporting problems.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := logger.Debug()
		if status >= 500 {
			evt = logger.Error()
		} else if status >= 400 {
			evt = logger.Warn()
		}
		evt.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

// rateLimitMiddleware creates a middleware that rate limits requests by endpoint
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	// Hot read paths polled by dashboards - no rate limiting needed
	noRateLimitPaths := map[string]bool{
		"/api/v1/state":                          true,
		"/api/v1/state/:token/:chain/:timeframe": true,
		"/api/v1/positions":                      true,
		"/api/v1/posture":                        true,
		"/api/v1/thresholds/resolve":             true,
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if noRateLimitPaths[path] {
			c.Next()
			return
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "Rate limit exceeded for this endpoint. Slow down and retry.",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check and Prometheus scrape endpoint
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket event stream
	s.router.GET("/ws", s.handleWebSocket)

	// Auth routes (public, no authentication required)
	if s.authEnabled {
		authHandlers := auth.NewHandlers(s.authService)
		authGroup := s.router.Group("/api/auth")
		authGroup.Use(s.rateLimitMiddleware())
		authHandlers.RegisterRoutes(authGroup, s.authService.GetJWTManager())
	}

	// Auth status endpoint (always available, returns whether auth is enabled)
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"auth_enabled": s.authEnabled,
		})
	})

	// API routes (protected when auth is enabled)
	api := s.router.Group("/api/v1")
	api.Use(s.rateLimitMiddleware())
	if s.authEnabled {
		api.Use(auth.Middleware(s.authService.GetJWTManager()))
	}

	{
		// Trend state endpoints
		api.GET("/state", s.handleGetStates)
		api.GET("/state/:token/:chain/:timeframe", s.handleGetState)
		api.GET("/positions", s.handleGetPositions)

		// Trade reporting (execution boundary)
		api.POST("/trades/report", s.handleReportTrade)

		// Posture endpoints
		api.GET("/posture", s.handleGetPosture)
		api.GET("/posture/flags", s.handleGetPostureFlags)
		api.PUT("/posture/flags", s.handleSetPostureFlags)

		// Threshold endpoints
		thresholds := api.Group("/thresholds")
		{
			thresholds.GET("", s.handleListThresholdDefaults)
			thresholds.PUT("", s.handleUpsertThresholdDefault)
			thresholds.DELETE("", s.handleDeleteThresholdDefault)
			thresholds.GET("/resolve", s.handleResolveThreshold)
			thresholds.GET("/resolved", s.handleGetResolvedThresholds)
			thresholds.POST("/refresh", s.handleRefreshThresholds)
			thresholds.GET("/runtime", s.handleGetRuntimeOverrides)
			thresholds.PUT("/runtime", s.handleSetRuntimeOverride)
			thresholds.DELETE("/runtime", s.handleClearRuntimeOverride)
			thresholds.GET("/drift", s.handleGetThresholdDrift)
			thresholds.GET("/stats", s.handleGetThresholdCacheStats)
		}

		// Learning endpoints
		api.GET("/lessons", s.handleGetLessons)
		api.GET("/overrides", s.handleGetOverrides)
		api.GET("/learning/status", s.handleGetLearningStatus)
		api.POST("/learning/run", s.handleRunLearningCycle)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbHealthy := true
	if s.repo != nil {
		if err := s.repo.HealthCheck(ctx); err != nil {
			dbHealthy = false
		}
	}

	components := gin.H{
		"database": map[bool]string{true: "healthy", false: "unhealthy"}[dbHealthy],
	}
	if s.engineState != nil {
		components["engine_state"] = s.engineState.Stats()
	}
	if s.consumer != nil {
		components["feed"] = s.consumer.Stats()
	}
	if s.thresholds != nil {
		components["thresholds"] = s.thresholds.Stats()
	}
	if s.engine != nil {
		components["positions"] = s.engine.PositionCount()
	}

	status := "healthy"
	code := http.StatusOK
	if !dbHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
