package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/handler"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/proxy"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const version = "1.0.0"

type Pinger interface {
	Ping(ctx context.Context) error
}

// Everything the server wires together. Only Controller is required.
type Dependencies struct {
	Controller *admission.Controller
	Stats      stats.Store
	Principals *service.PrincipalResolver
	Analytics  *service.AnalyticsService
	RequestLog *middleware.AdmissionLogger
	Gatherer   prometheus.Gatherer

	// Backing stores reported by /health, keyed by name
	HealthChecks map[string]Pinger
}

type Server struct {
	router           *gin.Engine
	config           *config.Config
	deps             Dependencies
	logger           *zap.Logger
	proxy            *proxy.Proxy
	admissionHandler *handler.AdmissionHandler
	analyticsHandler *handler.AnalyticsHandler
	httpServer       *http.Server
	startTime        time.Time
}

func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	p, err := proxy.New(cfg.Server.UpstreamURL, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:           router,
		config:           cfg,
		deps:             deps,
		logger:           logger,
		proxy:            p,
		admissionHandler: handler.NewAdmissionHandler(deps.Controller, deps.Stats),
		analyticsHandler: handler.NewAnalyticsHandler(deps.Analytics),
		startTime:        time.Now(),
	}

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
}

// Ops routes are registered ahead of the admission chain so health checks and
// scrapes never consume a caller's quota.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	admin := s.router.Group("/admin")
	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/admission", s.admissionHandler.Snapshot)
		admin.GET("/admission/stats", s.admissionHandler.Stats)
		admin.GET("/admission/history", s.analyticsHandler.GetSummary)
		admin.GET("/admission/history/hourly", s.analyticsHandler.GetTimeSeries)
	}

	s.setupProxyRoute()
}

func (s *Server) setupProxyRoute() {
	chain := []gin.HandlerFunc{}
	if s.deps.Principals.Enabled() {
		chain = append(chain, middleware.Principal(s.deps.Principals))
	}
	if s.deps.RequestLog != nil {
		chain = append(chain, s.deps.RequestLog.Middleware())
	}
	chain = append(chain,
		middleware.AdaptiveRateLimit(s.deps.Controller, s.deps.Stats, s.logger),
		s.proxy.Handle,
	)

	s.router.NoRoute(chain...)

	s.logger.Info("registered upstream route", zap.String("upstream", s.proxy.Target()))
}

func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := gin.H{}

	for name, pinger := range s.deps.HealthChecks {
		healthy := true
		if err := pinger.Ping(c.Request.Context()); err != nil {
			healthy = false
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
		checks[name] = healthy

		if !healthy {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "admission-gateway",
		"version":   version,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":   "running",
		"upstream":  s.proxy.Target(),
		"active":    s.deps.Controller.ActiveCount(),
		"buckets":   s.deps.Controller.BucketCount(),
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.logger.Info("starting admission gateway",
		zap.String("addr", s.config.Server.ListenAddr),
		zap.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
