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
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/firstgrade/hms/internal/auth"
	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/config"
	"github.com/firstgrade/hms/internal/dashboard"
	"github.com/firstgrade/hms/internal/entitlement"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/health"
	"github.com/firstgrade/hms/internal/idgen"
	"github.com/firstgrade/hms/internal/logging"
	"github.com/firstgrade/hms/internal/metrics"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/ratelimit"
	"github.com/firstgrade/hms/internal/realtime"
	"github.com/firstgrade/hms/internal/renewal"
	"github.com/firstgrade/hms/internal/security"
	"github.com/firstgrade/hms/internal/subscription"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/firstgrade/hms/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	catalog *plans.Catalog
	clock   billing.Clock

	// Persistence; at most one tenant backend is non-nil besides memory.
	db          *sql.DB // nil unless DATABASE_URL is set
	redis       *redis.Client
	sqlite      *tenant.SQLiteBackend
	fileBackend *tenant.FileBackend
	store       *tenant.Store
	invoices    billing.InvoiceStore

	payments     billing.PaymentProvider
	breaker      *billing.BreakerProvider
	nats         *events.NATSPublisher
	publisher    events.Publisher
	realtimeHub  *realtime.Hub
	service      *subscription.Service
	scanner      *renewal.Scanner
	renewalTimer *renewal.Timer
	tokens       *auth.Tokens
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry

	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	shutdownDrain time.Duration

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

// WithClock pins "today" (for testing)
func WithClock(c billing.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithPaymentProvider replaces the configured gateway (for testing)
func WithPaymentProvider(p billing.PaymentProvider) Option {
	return func(s *Server) {
		s.payments = p
	}
}

// WithShutdownDrain sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithShutdownDrain(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownDrain = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		catalog:       plans.Default,
		clock:         billing.SystemClock{},
		logger:        logging.New(cfg.LogLevel, cfg.LogFormat),
		shutdownDrain: 5 * time.Second,
	}

	// Apply options first (may set clock/logger/payments)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	if err := s.openStorage(ctx); err != nil {
		s.closeStorage()
		return nil, err
	}

	if err := s.store.Load(ctx); err != nil {
		s.closeStorage()
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	dashboard.RecordGauges(s.store.List(), s.catalog)

	// Invoices live next to tenant state when a database is available
	if s.db != nil {
		s.invoices = billing.NewPostgresInvoiceStore(s.db)
	} else {
		s.invoices = billing.NewMemoryInvoiceStore(billing.SeedInvoices()...)
	}

	// Payment gateway behind a circuit breaker
	if s.payments == nil {
		if cfg.StripeSecretKey != "" {
			s.payments = billing.NewStripeProvider(cfg.StripeSecretKey)
			s.logger.Info("stripe payments enabled")
		} else {
			s.payments = billing.NewSimulatedProvider(nil)
			s.logger.Warn("no payment gateway configured, using simulated payments")
		}
	}
	s.breaker = billing.NewBreakerProvider(s.payments, s.logger)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger).WithOrigins(cfg.CORSOrigins)

	// With NATS every instance's hub is fed from the bus, so UI shells see
	// changes made through any replica. Without it the hub is fed directly.
	s.publisher = s.realtimeHub
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, "hms-"+cfg.Env, s.logger)
		if err != nil {
			s.closeStorage()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		s.nats = nc
		if _, err := nc.Subscribe(events.SubjectWildcard, func(ev events.Event) {
			_ = s.realtimeHub.Publish(ctx, ev)
		}); err != nil {
			nc.Close()
			s.closeStorage()
			return nil, fmt.Errorf("failed to subscribe to tenant events: %w", err)
		}
		s.publisher = nc
		s.logger.Info("NATS event bus enabled", "url", cfg.NATSURL)
	}

	s.service = subscription.NewService(s.store, s.catalog, s.logger).
		WithClock(s.clock).
		WithInvoices(s.invoices).
		WithPayments(s.breaker).
		WithPublisher(s.publisher).
		WithStrictPlans(cfg.StrictPlans)

	s.scanner = renewal.NewScanner(s.store, s.clock, s.publisher, s.logger)
	s.renewalTimer = renewal.NewTimer(s.scanner, cfg.RenewalSchedule, s.logger)

	if cfg.JWTSecret != "" {
		tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
		if err != nil {
			s.closeStorage()
			return nil, fmt.Errorf("failed to configure tokens: %w", err)
		}
		s.tokens = tokens
		s.logger.Info("API authentication enabled", "issuer", cfg.JWTIssuer)
	}
	if cfg.DevHeaders {
		s.logger.Warn("development role headers are trusted", "headers", []string{auth.HeaderRole, auth.HeaderTenantID})
	}

	s.registerHealthChecks()

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

// openStorage opens the database (if configured) and the tenant backend
// selected by STORE_BACKEND.
func (s *Server) openStorage(ctx context.Context) error {
	cfg := s.cfg

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL", "url", maskDSN(cfg.DatabaseURL))
	}

	var backend tenant.Backend
	switch cfg.StoreBackend {
	case config.BackendFile:
		fb, err := tenant.NewFileBackend(cfg.StoreDir)
		if err != nil {
			return fmt.Errorf("failed to open file store: %w", err)
		}
		s.fileBackend = fb
		backend = fb

	case config.BackendSQLite:
		sb, err := tenant.NewSQLiteBackend(cfg.StoreDir)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.sqlite = sb
		backend = sb

	case config.BackendPostgres:
		if s.db == nil {
			return errors.New("postgres store requires DATABASE_URL")
		}
		pb := tenant.NewPostgresBackend(s.db)
		if err := pb.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate tenant store", "error", err)
		}
		backend = pb

	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opts)
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		backend = tenant.NewRedisBackend(s.redis, cfg.RedisPrefix)

	default:
		s.logger.Warn("using in-memory tenant store, changes are lost on restart")
		backend = tenant.NewMemoryBackend()
	}

	s.store = tenant.NewStore(backend, s.logger)
	s.logger.Info("tenant store ready", "backend", cfg.StoreBackend)
	return nil
}

func (s *Server) closeStorage() {
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			s.logger.Error("sqlite close error", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
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

	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Caller identity (JWT, or dev headers)
	s.router.Use(auth.Middleware(s.tokens, s.cfg.DevHeaders))
	s.router.Use(s.identityLogMiddleware())

	// Rate limiting, keyed by identity when there is one
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honour a well-formed id from the load balancer
		requestID := c.GetHeader("X-Request-ID")
		if !idgen.ValidRequestID(requestID) {
			requestID = idgen.RequestID()
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

// identityLogMiddleware tags request logs with the caller's tenant.
func (s *Server) identityLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := auth.GetIdentity(c); ok && id.TenantID != "" {
			c.Request = c.Request.WithContext(logging.WithTenantID(c.Request.Context(), id.TenantID))
		}
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

	// Realtime stream, scoped to the caller's tenant
	s.router.GET("/ws", s.realtimeHub.HandleWebSocket)

	v1 := s.router.Group("/v1")
	v1.GET("/info", s.infoHandler)

	subs := subscription.NewHandler(s.service)
	subs.RegisterRoutes(v1)
	subs.RegisterTenantRoutes(v1)

	admin := v1.Group("/admin", entitlement.RequireRole(auth.RoleSaaSOwner))
	subs.RegisterAdminRoutes(admin)
	dashboard.NewHandler(s.store, s.catalog, s.invoices).RegisterRoutes(admin)
	renewal.NewHandler(s.scanner).RegisterRoutes(admin)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) registerHealthChecks() {
	s.checks = health.NewRegistry(3 * time.Second)

	s.checks.Register("tenant_store", func(ctx context.Context) health.Status {
		return health.Status{Healthy: true, Detail: fmt.Sprintf("%s, %d tenants", s.cfg.StoreBackend, len(s.store.List()))}
	})

	if s.db != nil {
		s.checks.Register("postgres", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Healthy: false, Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
	}

	if s.redis != nil {
		s.checks.Register("redis", func(ctx context.Context) health.Status {
			if err := s.redis.Ping(ctx).Err(); err != nil {
				return health.Status{Healthy: false, Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
	}

	if s.nats != nil {
		s.checks.Register("nats", func(ctx context.Context) health.Status {
			return health.Status{Healthy: s.nats.IsConnected()}
		})
	}

	// An open breaker degrades checkout but not the rest of the API
	s.checks.Register("payments", func(ctx context.Context) health.Status {
		state := s.breaker.State()
		return health.Status{Healthy: state != gobreaker.StateOpen, Detail: s.breaker.Name() + " breaker " + state.String()}
	})

	s.checks.Register("renewal_timer", func(ctx context.Context) health.Status {
		detail := "never scanned"
		if last, ok := s.scanner.Last(); ok {
			detail = fmt.Sprintf("last scan %s, %d due", last.Date, len(last.Due))
		}
		// Before Run the timer has not started; that is not a failure.
		return health.Status{Healthy: s.renewalTimer.Running() || !s.ready.Load(), Detail: detail}
	})
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Realtime  realtime.Stats  `json:"realtime"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.cfg.Version,
		Checks:    statuses,
		Realtime:  s.realtimeHub.Stats(),
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":         "hms",
		"version":      s.cfg.Version,
		"environment":  s.cfg.Env,
		"storeBackend": s.cfg.StoreBackend,
		"payments":     s.breaker.Name(),
		"strictPlans":  s.cfg.StrictPlans,
		"today":        s.clock.Today(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, and blocks until a
// signal, ctx cancellation or a fatal loop error, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"store", s.cfg.StoreBackend,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start renewal scan timer
	g.Go(func() error {
		return s.renewalTimer.Start(gctx)
	})

	// Reload when another process rewrites the tenant file
	if s.fileBackend != nil {
		g.Go(func() error {
			return s.fileBackend.Watch(gctx, s.logger, s.reloadTenants)
		})
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		select {
		case <-time.After(100 * time.Millisecond):
			s.ready.Store(true)
			s.logger.Info("server ready")
		case <-runCtx.Done():
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case err := <-errChan:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	return runErr
}

func (s *Server) reloadTenants() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Reload(ctx); err != nil {
		s.logger.Error("tenant reload failed, keeping current tenants", "error", err)
		return
	}
	dashboard.RecordGauges(s.store.List(), s.catalog)
	s.logger.Info("tenants reloaded from disk")
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.shutdownDrain)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Cancel the context for all background goroutines (hub, timer, watcher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.nats != nil {
		s.nats.Close()
		s.logger.Info("NATS connection closed")
	}

	s.closeStorage()

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
