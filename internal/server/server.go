// Package server assembles storage, services, and HTTP routes.
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
	"golang.org/x/crypto/bcrypt"

	"github.com/widemind/coursepay/internal/access"
	"github.com/widemind/coursepay/internal/admin"
	"github.com/widemind/coursepay/internal/auth"
	"github.com/widemind/coursepay/internal/config"
	"github.com/widemind/coursepay/internal/courses"
	"github.com/widemind/coursepay/internal/health"
	"github.com/widemind/coursepay/internal/idgen"
	"github.com/widemind/coursepay/internal/logging"
	"github.com/widemind/coursepay/internal/metrics"
	"github.com/widemind/coursepay/internal/payments"
	"github.com/widemind/coursepay/internal/paystack"
	"github.com/widemind/coursepay/internal/ratelimit"
	"github.com/widemind/coursepay/internal/security"
	"github.com/widemind/coursepay/internal/users"
	"github.com/widemind/coursepay/internal/webhook"
)

// GatewayClient is the full payment gateway surface the server needs.
type GatewayClient interface {
	Initialize(ctx context.Context, email string, amount int64, callbackURL string) (*paystack.InitResult, error)
	Verify(ctx context.Context, reference string) (*paystack.VerifyResult, error)
}

// Server owns the HTTP listener and every service behind it.
type Server struct {
	cfg         *config.Config
	gateway     GatewayClient
	engine      *payments.Engine
	verifier    *payments.Verifier
	userSvc     *users.Service
	sessionMgr  *auth.Manager
	courseStore courses.Store
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

const serviceVersion = "0.1.0"

// Option customizes server construction.
type Option func(*Server)

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGateway substitutes the payment gateway client, mainly for tests.
func WithGateway(g GatewayClient) Option {
	return func(s *Server) { s.gateway = g }
}

// New builds a fully wired server. Postgres backs the stores when
// DATABASE_URL is set; otherwise everything runs in memory.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var (
		paymentStore payments.Store
		userStore    users.Store
		sessionStore auth.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		// Users before payments: payment_records carries an FK to users.
		pgUsers := users.NewPostgresStore(db)
		if err := pgUsers.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate user store", "error", err)
		}
		userStore = pgUsers

		pgPayments := payments.NewPostgresStore(db)
		if err := pgPayments.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate payment store", "error", err)
		}
		paymentStore = pgPayments

		pgSessions := auth.NewPostgresStore(db)
		if err := pgSessions.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate session store", "error", err)
		}
		sessionStore = pgSessions

		pgCourses := courses.NewPostgresStore(db)
		if err := pgCourses.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate course store", "error", err)
		}
		s.courseStore = pgCourses
	} else {
		s.logger.Info("using in-memory storage, data will not survive restarts")
		paymentStore = payments.NewMemoryStore()
		userStore = users.NewMemoryStore()
		sessionStore = auth.NewMemoryStore()
		s.courseStore = courses.NewMemoryStore()
	}

	s.engine = payments.NewEngine(paymentStore, cfg.AmountExpected, s.logger)
	s.userSvc = users.NewService(userStore, s.engine, s.logger)
	s.sessionMgr = auth.NewManager(sessionStore, s.userSvc, cfg.SessionTTL, s.logger)

	if s.gateway == nil {
		s.gateway = paystack.NewClient(cfg.PaystackSecretKey,
			paystack.WithBaseURL(cfg.PaystackBaseURL),
			paystack.WithTimeout(cfg.GatewayTimeout),
		)
	}
	s.verifier = payments.NewVerifier(s.gateway, s.engine, s.logger)

	if err := s.bootstrapAdmin(ctx, userStore); err != nil {
		return nil, err
	}

	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// bootstrapAdmin creates the configured admin account if it doesn't exist.
// Admins never come from registration, so this is the only way in.
func (s *Server) bootstrapAdmin(ctx context.Context, store users.Store) error {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return nil
	}
	email := users.NormalizeEmail(s.cfg.AdminEmail)
	if _, err := store.GetByEmail(ctx, email); err == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	u := &users.User{
		ID:           idgen.WithPrefix("usr_"),
		Name:         "Administrator",
		Email:        email,
		PasswordHash: string(hash),
		Role:         users.RoleAdmin,
	}
	if err := store.Create(ctx, u); err != nil && !errors.Is(err, users.ErrEmailTaken) {
		return fmt.Errorf("create admin account: %w", err)
	}
	s.logger.Info("admin account ready", "email", email)
	return nil
}

// maskDSN blanks the password portion of a connection string before it
// reaches the logs.
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

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
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

	limCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware reuses an inbound X-Request-ID when a proxy already
// assigned one, otherwise mints a short random one, and threads it through
// the request context and response.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = idgen.Hex(8)
		}

		ctx := logging.WithLogger(logging.WithRequestID(c.Request.Context(), id), s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// loggingMiddleware emits one line per request, leveled by response class.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	// Gateway-facing surfaces: signed webhook and browser callback. Neither
	// carries a session.
	webhookHandler := webhook.NewHandler(s.engine, s.userSvc, s.cfg.PaystackSecretKey)
	webhookHandler.RegisterRoutes(s.router.Group(""))

	paymentHandler := payments.NewHandler(s.engine, s.verifier, s.gateway, s.userSvc, s.cfg.BaseURL)
	paymentHandler.RegisterCallbackRoute(s.router.Group(""))

	api := s.router.Group("/api")

	// Registration and login need no session.
	authHandler := auth.NewHandler(s.sessionMgr, s.userSvc, s.cfg.IsProduction())
	authHandler.RegisterRoutes(api)

	// Session required.
	protected := api.Group("")
	protected.Use(s.sessionMgr.RequireUser())
	{
		protected.GET("/me", s.meHandler)
		paymentHandler.RegisterRoutes(protected)
	}

	// Session plus paid status required; admins pass the paywall outright.
	gated := api.Group("")
	gated.Use(s.sessionMgr.RequireUser(), access.RequirePaid(s.engine))
	courses.NewHandler(s.courseStore).RegisterRoutes(gated)

	adminGroup := api.Group("/admin")
	adminGroup.Use(s.sessionMgr.RequireAdmin())
	admin.NewHandler(s.userSvc, s.engine).RegisterRoutes(adminGroup)
}

// meHandler returns the authenticated account.
func (s *Server) meHandler(c *gin.Context) {
	u, err := s.userSvc.Get(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not load account",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	allHealthy, statuses := s.checks.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		verdict := "healthy"
		if !st.Healthy {
			verdict = "unhealthy"
		}
		checks[st.Name] = verdict
	}

	resp := healthResponse{
		Status:    "healthy",
		Version:   serviceVersion,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !allHealthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
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
		"name":        "CoursePay",
		"description": "Course access gated on verified gateway payments",
		"version":     serviceVersion,
		"currency":    "NGN",
		"amountKobo":  s.cfg.AmountExpected,
	})
}

// Run serves HTTP until a signal arrives, the context is cancelled, or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	s.sessionMgr.StartReaper(runCtx, time.Hour)
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Flip readiness once the listener has had a moment to bind.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-listenErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}
	return s.Shutdown()
}

// Shutdown drains in-flight requests, then releases background loops and
// the database pool.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
