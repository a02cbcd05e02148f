package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/chatguard/internal/circuitbreaker"
	"github.com/aman-churiwal/chatguard/internal/config"
	"github.com/aman-churiwal/chatguard/internal/handler"
	"github.com/aman-churiwal/chatguard/internal/healthcheck"
	"github.com/aman-churiwal/chatguard/internal/middleware"
	"github.com/aman-churiwal/chatguard/internal/models"
	"github.com/aman-churiwal/chatguard/internal/proxy"
	"github.com/aman-churiwal/chatguard/internal/ratelimit"
	"github.com/aman-churiwal/chatguard/internal/repository"
	"github.com/aman-churiwal/chatguard/internal/service"
	"github.com/aman-churiwal/chatguard/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	redis    *storage.RedisClient
	postgres *storage.Postgres

	store    ratelimit.Store
	limiter  *ratelimit.Limiter
	admin    *ratelimit.Admin
	breakers map[string]*circuitbreaker.CircuitBreaker

	authService *service.AuthService
	audit       *service.AuditLog
	proxy       *proxy.Proxy
	health      *healthcheck.Checker

	stopSweep  chan struct{}
	httpServer *http.Server
}

// New wires the limiter and the HTTP surface. redis may be nil when
// rate_limit.storage is "memory"; postgres may be nil, which disables operator
// login, the admin API and the audit trail.
func New(cfg *config.Config, logger *zap.Logger, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		logger:    logger,
		redis:     redis,
		postgres:  postgres,
		breakers:  make(map[string]*circuitbreaker.CircuitBreaker),
		stopSweep: make(chan struct{}),
	}

	// X-Forwarded-For is only read from these peers
	if err := s.router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid server.trusted_proxies: %w", err)
	}

	if err := s.initializeLimiter(); err != nil {
		return nil, err
	}

	if cfg.Upstream.Target != "" {
		p, err := proxy.New(proxy.Config{
			Target: cfg.Upstream.Target,
			CircuitBreaker: circuitbreaker.Config{
				Name:        "upstream",
				MaxFailures: cfg.RateLimit.Breaker.MaxFailures,
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy: %w", err)
		}
		s.proxy = p
		s.breakers["upstream"] = p.Breaker()
	}

	s.initializeHealth()
	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Server) initializeLimiter() error {
	cfg := s.config.RateLimit

	overrides := make(map[string]ratelimit.PolicyOverride, len(cfg.Policies))
	for name, p := range cfg.Policies {
		overrides[name] = ratelimit.PolicyOverride{
			Points:        p.Points,
			WindowSeconds: p.WindowSeconds,
			BlockSeconds:  p.BlockSeconds,
		}
	}

	registry, err := ratelimit.NewRegistry(overrides)
	if err != nil {
		return fmt.Errorf("invalid rate limit policies: %w", err)
	}

	switch cfg.Storage {
	case "memory":
		mem := ratelimit.NewMemoryStore()
		s.store = mem
		go s.sweep(mem)
		s.logger.Warn("using in-memory rate limit store, limits are per process")
	default:
		if s.redis == nil {
			return errors.New("redis client is required for redis rate limit storage")
		}
		bs := ratelimit.NewBreakerStore(ratelimit.NewRedisStore(s.redis), circuitbreaker.Config{
			Name:        "ratelimit-store",
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
		}, s.logger)
		s.store = bs
		s.breakers["ratelimit-store"] = bs.Breaker()
	}

	var sink ratelimit.EventSink = ratelimit.NopSink()
	if s.postgres != nil {
		s.audit = service.NewAuditLog(
			repository.NewReputationEventRepository(s.postgres),
			service.AuditConfig{},
			s.logger,
		)
		s.audit.Start()
		sink = s.audit

		s.authService = service.NewAuthService(
			repository.NewUserRepository(s.postgres),
			s.config.Auth.JWTSecret,
			s.config.Auth.JWTExpiryHours,
		)
	}

	recorder := ratelimit.NewRecorder(s.store, ratelimit.RecorderConfig{
		LogSize:             cfg.ViolationLogSize,
		EscalationThreshold: cfg.EscalationThreshold,
		EscalationWindow:    cfg.EscalationWindow,
	}, sink, s.logger)

	s.limiter = ratelimit.NewLimiter(s.store, registry, recorder, ratelimit.Options{
		Timeout: cfg.Timeout,
		Logger:  s.logger,
	})
	s.admin = ratelimit.NewAdmin(s.store, registry, sink, s.logger)

	return nil
}

func (s *Server) sweep(mem *ratelimit.MemoryStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mem.Sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Server) initializeHealth() {
	probes := []healthcheck.Probe{{Name: "ratelimit_store", Check: s.store.Ping}}

	if s.redis != nil {
		redis := s.redis
		probes = append(probes, healthcheck.Probe{
			Name: "redis",
			Check: func(ctx context.Context) error {
				ratelimit.ObservePoolStats(redis.PoolStats())
				return redis.Ping(ctx)
			},
		})
	}
	if s.postgres != nil {
		probes = append(probes, healthcheck.Probe{Name: "postgres", Check: s.postgres.Ping})
	}
	if s.config.Upstream.Target != "" {
		probes = append(probes, healthcheck.HTTPProbe("upstream", s.config.Upstream.Target+"/health"))
	}

	s.health = healthcheck.NewChecker(&healthcheck.Config{Probes: probes}, s.logger)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:  s.config.Server.AllowOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	s.router.Use(middleware.Identity(s.config.Auth.DashboardJWTSecret))
}

func (s *Server) setupRoutes() error {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	system := handler.NewSystemHandler(s.breakers)

	if s.authService != nil {
		authHandler := handler.NewAuthHandler(s.authService)
		rlHandler := handler.NewRateLimitHandler(s.admin, s.audit)

		s.router.POST("/admin/auth/login",
			middleware.RateLimit(s.limiter, ratelimit.AuthLogin, s.logger),
			authHandler.Login,
		)

		admin := s.router.Group("/admin")
		admin.Use(middleware.RequireAuth(s.authService), middleware.RequireRole(models.RoleAdmin))
		{
			admin.GET("/status", s.adminStatus)
			admin.GET("/circuit-breakers", system.CircuitBreakerStatus)
			admin.POST("/circuit-breakers/:name/reset", system.ResetCircuitBreaker)

			rl := admin.Group("/ratelimit")
			rl.GET("/stats", rlHandler.Stats)
			rl.GET("/status/:identifier", rlHandler.Status)
			rl.GET("/policies", rlHandler.Policies)
			rl.GET("/audit", rlHandler.Audit)
			rl.POST("/reset", rlHandler.Reset)
			rl.POST("/whitelist", rlHandler.WhitelistAdd)
			rl.DELETE("/whitelist", rlHandler.WhitelistRemove)
			rl.POST("/blacklist", rlHandler.BlacklistAdd)
			rl.DELETE("/blacklist", rlHandler.BlacklistRemove)
		}
	} else {
		s.logger.Warn("postgres not configured, admin API disabled")
	}

	return s.setupProxyRoutes()
}

func (s *Server) setupProxyRoutes() error {
	for _, route := range s.config.Routes {
		lt, err := ratelimit.ParseLimitType(route.LimitType)
		if err != nil {
			return fmt.Errorf("route %s: %w", route.Path, err)
		}

		limit := middleware.RateLimit(s.limiter, lt, s.logger)
		forward := s.proxy.Handle

		s.router.Any(route.Path, limit, forward)
		s.router.Any(route.Path+"/*proxyPath", limit, forward)

		s.logger.Info("registered protected route",
			zap.String("path", route.Path),
			zap.String("limit_type", string(lt)),
		)
	}

	return nil
}

func (s *Server) healthCheck(c *gin.Context) {
	s.health.CheckNow()

	overall := s.health.OverallHealth()
	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "chatguard",
		"timestamp": time.Now().Unix(),
		"checks":    s.health.GetAllStatus(),
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":   "running",
		"storage":   s.config.RateLimit.Storage,
		"routes":    len(s.config.Routes),
		"uptime":    time.Since(startTime).Seconds(),
		"timestamp": time.Now().Unix(),
	})
}

// EnsureAdmin creates the bootstrap operator from config when it does not exist yet
func (s *Server) EnsureAdmin(ctx context.Context) error {
	if s.authService == nil {
		return nil
	}

	created, err := s.authService.EnsureAdmin(ctx, s.config.Auth.AdminEmail, s.config.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	if created {
		s.logger.Info("bootstrap admin created", zap.String("email", s.config.Auth.AdminEmail))
	}
	return nil
}

func (s *Server) Run(addr string) error {
	s.health.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.logger.Info("starting chatguard",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.health.Stop()
	close(s.stopSweep)

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	if s.audit != nil {
		if closeErr := s.audit.Close(ctx); closeErr != nil {
			s.logger.Warn("audit log did not flush before shutdown", zap.Error(closeErr))
		}
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

var startTime = time.Now()
