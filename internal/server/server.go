// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/lumapay/riskengine/internal/activity"
	"github.com/lumapay/riskengine/internal/authhistory"
	"github.com/lumapay/riskengine/internal/blocks"
	"github.com/lumapay/riskengine/internal/config"
	"github.com/lumapay/riskengine/internal/engine"
	"github.com/lumapay/riskengine/internal/health"
	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/lists"
	"github.com/lumapay/riskengine/internal/logging"
	"github.com/lumapay/riskengine/internal/metrics"
	"github.com/lumapay/riskengine/internal/notify"
	"github.com/lumapay/riskengine/internal/oracle"
	"github.com/lumapay/riskengine/internal/ratelimit"
	"github.com/lumapay/riskengine/internal/realtime"
	"github.com/lumapay/riskengine/internal/rules"
	"github.com/lumapay/riskengine/internal/security"
	"github.com/lumapay/riskengine/internal/settings"
	"github.com/lumapay/riskengine/internal/threeds"
	"github.com/lumapay/riskengine/internal/traces"
	"github.com/lumapay/riskengine/internal/transaction"
	"github.com/lumapay/riskengine/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	txnStore      transaction.Store
	decisionStore engine.Store
	listStore     lists.Store
	ruleStore     rules.Store
	activityStore activity.Store
	blockStore    blocks.Store

	settings  *settings.Service
	engine    *engine.Engine
	promoter  *lists.Promoter
	detector  *activity.Detector
	validator *blocks.Validator

	detectorTimer   *activity.Timer
	escalator       *blocks.Escalator
	listMaintenance *lists.Maintenance

	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, cfg.LogFormat),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.txnStore = transaction.NewPostgresStore(db)
		s.decisionStore = engine.NewPostgresStore(db)
		s.listStore = lists.NewPostgresStore(db)
		s.ruleStore = rules.NewPostgresStore(db)
		s.activityStore = activity.NewPostgresStore(db)
		s.blockStore = blocks.NewPostgresStore(db)
		s.settings = settings.NewService(settings.NewPostgresStore(db), s.logger)
		s.healthReg.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.txnStore = transaction.NewMemoryStore()
		s.decisionStore = engine.NewMemoryStore()
		s.listStore = lists.NewMemoryStore()
		s.ruleStore = rules.NewMemoryStore()
		s.activityStore = activity.NewMemoryStore()
		s.blockStore = blocks.NewMemoryStore()
		s.settings = settings.NewService(settings.NewMemoryStore(), s.logger)
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Oracle scorer (neutral fallback when unset)
	var scorer oracle.Scorer = oracle.Nop{}
	if cfg.OracleURL != "" {
		scorer = oracle.NewClient(cfg.OracleURL, cfg.OracleAPIKey, cfg.OracleTimeout)
		s.logger.Info("risk oracle enabled", "url", cfg.OracleURL)
	} else {
		s.logger.Warn("risk oracle not configured, using neutral base score")
	}

	// Auth-history collaborator (neutral adjustment when unset)
	var authLookup authhistory.Lookup = authhistory.Nop{}
	if cfg.AuthHistoryURL != "" {
		authLookup = authhistory.NewClient(cfg.AuthHistoryURL, cfg.AuthHistoryTimeout)
		s.logger.Info("auth-history adjustment enabled", "url", cfg.AuthHistoryURL)
	}

	// Review notifier. The webhook URL is operator-supplied, so it goes
	// through the SSRF guard before we agree to POST to it.
	var notifier notify.Notifier = notify.Nop{}
	if cfg.ReviewWebhookURL != "" {
		if err := security.ValidateWebhookURL(cfg.ReviewWebhookURL); err != nil {
			s.logger.Warn("review webhook rejected, notifications disabled",
				"url", cfg.ReviewWebhookURL, "error", err)
		} else {
			notifier = notify.NewWebhook(cfg.ReviewWebhookURL)
			s.logger.Info("review notifications enabled")
		}
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Auto-whitelist promoter, fed by the engine's approval hook
	s.promoter = lists.NewPromoter(s.listStore, s.decisionStore, s.settings, s.logger)

	// Decision engine
	s.engine = engine.New(
		s.decisionStore, s.listStore, s.ruleStore, s.txnStore,
		scorer, authLookup, s.settings, s.logger,
		engine.Options{
			Notifier:  notifier,
			Promoter:  s.promoter,
			Publisher: &hubPublisher{s.realtimeHub},
		},
	)

	// Suspicious-activity detector and auto-block escalator
	s.detector = activity.NewDetector(s.activityStore, s.txnStore, s.decisionStore, s.settings, s.logger)
	s.detectorTimer = activity.NewTimer(s.detector, cfg.DetectorInterval, s.logger)
	s.escalator = blocks.NewEscalator(s.blockStore, s.activityStore, s.settings, cfg.EscalatorInterval, s.logger)
	s.validator = blocks.NewValidator(s.blockStore)

	// Stale auto-whitelist sweeper
	s.listMaintenance = lists.NewMaintenance(s.listStore, s.settings, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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
			logger.Info("request completed",
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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time decision/activity/block streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// ADMIN ROUTES (analyst and operations surface, bearer-secret auth)
	admin := v1.Group("")
	admin.Use(security.AdminAuth(s.cfg.AdminSecret))

	// Analysis and decisions. POST /analyze and the validate endpoint are
	// the caller-facing surface; decision reads and review are admin-only.
	engineHandlers := engine.NewHandlers(s.txnStore, s.engine, s.decisionStore, s.threeDSGateway(), s.logger)
	engineHandlers.RegisterRoutes(v1, admin)

	// Security blocks. GET /validate is called by the auth service on every
	// login attempt and must stay public and fail-open.
	blockHandlers := blocks.NewHandlers(s.blockStore, s.validator)
	blockHandlers.RegisterRoutes(v1, admin)

	// Rule management
	ruleHandlers := rules.NewHandlers(s.ruleStore)
	ruleHandlers.RegisterRoutes(admin)

	// Blacklist / whitelist management
	listHandlers := lists.NewHandler(s.listStore)
	listHandlers.RegisterRoutes(admin)

	// Suspicious activity queue
	activityHandlers := activity.NewHandlers(s.activityStore)
	activityHandlers.RegisterRoutes(admin)

	// Runtime configuration
	settingsHandlers := settings.NewHandler(s.settings.Store())
	settingsHandlers.RegisterRoutes(admin)
}

// threeDSGateway builds the 3-D Secure gateway, or the no-op when unset.
func (s *Server) threeDSGateway() threeds.Gateway {
	if s.cfg.ThreeDSURL == "" {
		return threeds.Nop{}
	}
	return threeds.NewClient(s.cfg.ThreeDSURL, s.cfg.ThreeDSAPIKey, s.cfg.ThreeDSTimeout)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "riskengine",
		"description": "Payment risk decision engine",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing
	if shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger); err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.shutdownOTel = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start suspicious-activity detector
	go s.detectorTimer.Start(runCtx)

	// Start auto-block escalator
	go s.escalator.Start(runCtx)

	// Start stale auto-whitelist sweeper
	go s.listMaintenance.Start(runCtx)

	// Collect DB pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.detectorTimer != nil {
		s.detectorTimer.Stop()
	}
	if s.escalator != nil {
		s.escalator.Stop()
	}
	if s.listMaintenance != nil {
		s.listMaintenance.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// hubPublisher adapts realtime.Hub to engine.Publisher
type hubPublisher struct {
	hub *realtime.Hub
}

func (p *hubPublisher) PublishDecision(d *engine.Decision) {
	if p.hub == nil {
		return
	}
	p.hub.BroadcastDecision(map[string]interface{}{
		"decisionId":    d.ID,
		"transactionId": d.TransactionID,
		"outcome":       string(d.Outcome),
		"score":         d.Score,
		"reasons":       d.Reasons,
		"durationMs":    d.DurationMS,
	})
}
