package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/activity"
	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/server"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Dependencies{
		HealthChecks: map[string]server.Pinger{},
		Principals:   service.NewPrincipalResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTCookie),
	}

	// Decision counters live in Redis when configured, in memory otherwise
	if cfg.Redis.Enabled() {
		redis, err := storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redis.Close()

		logger.Info("connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))

		deps.HealthChecks["redis"] = redis
		deps.Stats = stats.NewRedisStore(redis,
			stats.WithPrefix(cfg.Redis.StatsPrefix),
			stats.WithTTL(cfg.Redis.StatsTTL),
			stats.WithRedisTrackKeys(cfg.Redis.TrackKeys),
		)
	} else {
		deps.Stats = stats.NewMemoryStore(stats.WithTrackKeys(cfg.Redis.TrackKeys))
	}

	// Outlives the signal context so rows from draining requests are still written
	logCtx, stopLog := context.WithCancel(context.Background())
	defer stopLog()

	var requestLog *middleware.AdmissionLogger
	if cfg.Database.Enabled() {
		postgres, err := storage.NewPostgres(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		logger.Info("connected to database")

		repo := repository.NewAdmissionLogRepository(postgres)
		deps.HealthChecks["database"] = postgres
		deps.Analytics = service.NewAnalyticsService(repo)

		requestLog = middleware.NewAdmissionLogger(repo, cfg.Database.RequestLogBuffer, logger.Named("admission_log"))
		requestLog.Start(logCtx)
		deps.RequestLog = requestLog
	}

	tracker := activity.New(activity.Config{
		Timeout:       cfg.Admission.ActivityTimeout,
		SweepInterval: cfg.Admission.SweepInterval,
	})
	limiter := admission.NewLimiter(admission.LimiterConfig{
		Tiers:  cfg.Admission.Tiers,
		Window: cfg.Admission.Window,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, admissionState{tracker: tracker, limiter: limiter})

	controller := admission.NewController(tracker, limiter,
		admission.WithObserver(m),
		admission.WithLogger(logger.Named("admission")),
	)
	deps.Controller = controller
	deps.Gatherer = reg

	if cfg.Admission.BucketEviction {
		controller.StartBucketJanitor(ctx, cfg.Admission.JanitorInterval)
	}

	logger.Info("admission configured",
		zap.Stringer("tiers", cfg.Admission.Tiers),
		zap.Duration("window", cfg.Admission.Window),
		zap.Duration("activity_timeout", cfg.Admission.ActivityTimeout),
		zap.Bool("bucket_eviction", cfg.Admission.BucketEviction),
		zap.Bool("principal_keys", deps.Principals.Enabled()),
	)

	srv, err := server.New(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx, srv, requestLog, stopLog); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Drains in-flight requests first, then stops the admission log worker and
// waits for its final flush
func shutdown(ctx context.Context, srv shutdowner, requestLog *middleware.AdmissionLogger, stopLog context.CancelFunc) error {
	err := srv.Shutdown(ctx)

	if requestLog != nil {
		stopLog()
		requestLog.Wait()
	}

	return err
}

// Feeds the map-size gauges before the controller exists
type admissionState struct {
	tracker *activity.Tracker
	limiter *admission.Limiter
}

func (s admissionState) ActiveCount() int { return s.tracker.CountActive() }
func (s admissionState) BucketCount() int { return s.limiter.Size() }
