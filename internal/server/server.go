// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/riskscope/internal/alerts"
	"github.com/mbd888/riskscope/internal/circuitbreaker"
	"github.com/mbd888/riskscope/internal/config"
	"github.com/mbd888/riskscope/internal/engine"
	"github.com/mbd888/riskscope/internal/health"
	"github.com/mbd888/riskscope/internal/logging"
	"github.com/mbd888/riskscope/internal/metrics"
	"github.com/mbd888/riskscope/internal/ratelimit"
	"github.com/mbd888/riskscope/internal/realtime"
	"github.com/mbd888/riskscope/internal/security"
	"github.com/mbd888/riskscope/internal/traces"
	"github.com/mbd888/riskscope/internal/trend"
	"github.com/mbd888/riskscope/internal/validation"
)

// Version is reported by /health and set by cmd/server from ldflags.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *engine.Engine
	source       engine.DataSource
	realtimeHub  *realtime.Hub
	worker       *engine.Worker
	breaker      *circuitbreaker.Breaker
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDataSource replaces the built-in in-memory metric source, for
// deployments that pull metrics from an upstream system.
func WithDataSource(src engine.DataSource) Option {
	return func(s *Server) {
		s.source = src
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		logger:      logging.New(cfg.LogLevel, cfg.LogFormat),
		health:      health.NewRegistry(),
		stopTracing: func(context.Context) error { return nil },
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		s.source = engine.NewStaticSource()
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		trendStore trend.Store
		alertStore alerts.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgTrend := trend.NewPostgresStore(db)
		if err := pgTrend.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate trend store", "error", err)
		}
		pgAlerts := alerts.NewPostgresStore(db)
		if err := pgAlerts.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate alert store", "error", err)
		}
		trendStore, alertStore = pgTrend, pgAlerts

		s.health.Register("database", health.PingCheck("database", db))
	} else {
		trendStore, alertStore = trend.NewMemoryStore(), alerts.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	engineCfg, err := buildEngineConfig(cfg)
	if err != nil {
		s.closeDB()
		return nil, err
	}

	s.realtimeHub = realtime.NewHub(s.logger,
		realtime.WithAllowedOrigins(security.ParseOrigins(cfg.CORSAllowedOrigins)))

	engineOpts := []engine.Option{
		engine.WithDataSource(s.source),
		engine.WithEventSink(s.realtimeHub),
		engine.WithLogger(s.logger),
	}
	if cfg.CircuitThreshold > 0 {
		s.breaker = circuitbreaker.New(cfg.CircuitThreshold, cfg.CircuitOpenDuration)
		s.breaker.OnTransition(func(entityID string, from, to circuitbreaker.State) {
			s.logger.Warn("data source circuit changed",
				"entity_id", entityID,
				"from", from.String(),
				"to", to.String(),
			)
		})
		engineOpts = append(engineOpts, engine.WithCircuitBreaker(s.breaker))
		s.health.Register("data_source", s.circuitCheck, health.Informational())
	}

	s.engine, err = engine.New(engineCfg, trendStore, alertStore, engineOpts...)
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to create risk engine: %w", err)
	}
	s.logger.Info("risk engine configured",
		"categories", len(engineCfg.Model.Categories),
		"scenarios", len(engineCfg.Library.Scenarios),
		"library_version", engineCfg.Library.Version,
		"alert_hysteresis", s.engine.Thresholds().AlertHysteresis,
		"min_tail_history", s.engine.Thresholds().MinTailHistory,
	)

	if cfg.ReassessInterval > 0 {
		s.worker = engine.NewWorker(s.engine, cfg.ReassessInterval, s.logger)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// buildEngineConfig maps environment settings onto the engine defaults and
// overlays the risk model file when one is configured.
func buildEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.DefaultConfig()
	ec.Model.StalenessWindow = cfg.StalenessWindow
	ec.AlertHysteresis = cfg.AlertHysteresis
	ec.TrendDeadZone = cfg.TrendDeadZone
	ec.TrendWindow = cfg.TrendWindow
	ec.MinTailHistory = cfg.MinTailHistory
	ec.FetchTimeout = cfg.FetchTimeout
	ec.BatchConcurrency = cfg.BatchConcurrency

	if cfg.RiskModelFile != "" {
		mf, err := engine.LoadModelFile(cfg.RiskModelFile)
		if err != nil {
			return ec, fmt.Errorf("failed to load risk model: %w", err)
		}
		if err := mf.Apply(&ec); err != nil {
			return ec, fmt.Errorf("invalid risk model %s: %w", cfg.RiskModelFile, err)
		}
	}
	return ec, nil
}

// circuitCheck reports open data-source circuits. It is registered as
// informational: open circuits degrade single entities, not the service.
func (s *Server) circuitCheck(context.Context) health.Status {
	n := s.breaker.OpenKeys()
	st := health.Status{Name: "data_source", Healthy: n == 0}
	if n > 0 {
		st.Detail = strconv.Itoa(n) + " entities with open circuit"
	}
	return st
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.CORSAllowedOrigins)))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	if s.cfg.RateLimitRPM > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		if s.cfg.RateLimitBurst > 0 {
			rl.BurstSize = s.cfg.RateLimitBurst
		}
		s.rateLimiter = ratelimit.New(rl)
		s.router.Use(s.rateLimiter.Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Reuse an upstream request ID (load balancer, MCP client) when present.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Live assessment and alert events. Filters: ?entity=a,b&type=alert_raised&minSeverity=high
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	v1.Use(validation.EntityParamMiddleware())
	engine.NewHandler(s.engine).RegisterRoutes(v1)
	v1.GET("/stats", s.statsHandler)
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// statsHandler summarizes engine and stream state for operators.
// GET /v1/stats
func (s *Server) statsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	out := gin.H{
		"realtime":       s.realtimeHub.Stats(),
		"libraryVersion": s.engine.Library().Version,
		"thresholds":     s.engine.Thresholds(),
	}
	if n, err := s.engine.AlertStore().CountActive(ctx); err == nil {
		out["activeAlerts"] = n
	}
	if ids, err := s.source.ListEntities(ctx); err == nil {
		out["entities"] = len(ids)
	}
	if s.breaker != nil {
		out["openCircuits"] = s.breaker.OpenKeys()
	}
	c.JSON(http.StatusOK, out)
}

// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, traces.Options{
		Endpoint:       s.cfg.OTLPEndpoint,
		ServiceVersion: Version,
		SampleRatio:    s.cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without traces", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.worker != nil {
		go s.worker.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.worker != nil {
		s.worker.Stop()
		s.logger.Info("reassessment worker stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if err := s.stopTracing(ctx); err != nil {
		s.logger.Error("tracer shutdown error", "error", err)
	}

	s.closeDB()

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the risk engine, for embedding and tests.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
