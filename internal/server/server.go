// Package server wires admission control, the form service and the HTTP
// routes into a runnable API server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastsubmit/formgate/internal/admission"
	"github.com/fastsubmit/formgate/internal/audit"
	"github.com/fastsubmit/formgate/internal/auth"
	"github.com/fastsubmit/formgate/internal/config"
	"github.com/fastsubmit/formgate/internal/cors"
	"github.com/fastsubmit/formgate/internal/limiter"
	"github.com/fastsubmit/formgate/internal/metrics"
	"github.com/fastsubmit/formgate/internal/reliability"
	"github.com/fastsubmit/formgate/internal/repository"
	"github.com/fastsubmit/formgate/internal/repository/memory"
	"github.com/fastsubmit/formgate/internal/repository/sqlstore"
	"github.com/fastsubmit/formgate/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	readyTimeout    = 2 * time.Second
)

type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    repository.Store
	redis    *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Collector
	audit    audit.Logger
	state    *admission.State
	forms    *service.FormService
	operator *service.OperatorService
	router   *mux.Router
}

// Deps are the external collaborators of a Server. Redis may be nil when the
// memory rate limit backend is used.
type Deps struct {
	Store    repository.Store
	Redis    *redis.Client
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// Open connects the store and Redis described by cfg and builds the server.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	var store repository.Store
	switch cfg.Store.Driver {
	case "memory":
		store = memory.New()
	default:
		s, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		store = s
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := New(cfg, Deps{Store: store, Redis: rdb, Registry: reg, Logger: logger})
	if err != nil {
		_ = store.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	return srv, nil
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	strategy, err := reliability.ParseStrategy(cfg.RateLimit.FailureStrategy)
	if err != nil {
		return nil, err
	}

	var lim limiter.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		if deps.Redis == nil {
			return nil, errors.New("server: redis rate limit backend needs a redis client")
		}
		lim = limiter.NewRedisWindow(deps.Redis)
	default:
		lim = limiter.NewFixedWindow(logger.Named("limiter"))
	}

	resolver := service.NewResolver(deps.Store, cfg.Cache.TTL, m, logger.Named("resolver"))
	guard := service.NewGuard(deps.Store, m, logger.Named("guard"))

	state, err := admission.New(admission.Options{
		Limiter:         lim,
		Limits:          config.NewDynamicLimits(cfg.RateLimit),
		FailureStrategy: strategy,
		Resolver:        resolver,
		Guard:           guard,
		CORS: cors.Set{
			Public:     cors.Public(cfg.CORS.Public.AllowedOrigins),
			Management: cors.Management(cfg.CORS.Management.AllowedOrigins),
		},
		ReapInterval:  cfg.RateLimit.ReapInterval,
		SweepInterval: cfg.Cache.SweepInterval,
		Metrics:       m,
		Logger:        logger.Named("admission"),
	})
	if err != nil {
		return nil, err
	}

	auditLog := audit.NewZapLogger(logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    deps.Store,
		redis:    deps.Redis,
		registry: reg,
		metrics:  m,
		audit:    auditLog,
		state:    state,
		forms:    service.NewFormService(deps.Store, guard, resolver, auditLog, logger.Named("forms")),
		operator: service.NewOperatorService(
			cfg.Operator.Username,
			cfg.Operator.PasswordHash,
			auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL),
		),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// releases the store and Redis.
func (s *Server) Run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	s.state.Start(bgCtx)

	srv := &http.Server{
		Addr:              s.cfg.App.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("store", s.cfg.Store.Driver),
			zap.String("rate_limit_backend", s.cfg.RateLimit.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			runErr = fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	stopBackground()
	s.state.Wait()
	if err := s.close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *Server) close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
