// Package admission bundles the per-process admission control state: rate
// limit buckets, the credential resolution cache, the ownership guard and the
// CORS policies. One State is built at startup and shared by all handlers.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/config"
	"github.com/fastsubmit/formgate/internal/cors"
	"github.com/fastsubmit/formgate/internal/limiter"
	"github.com/fastsubmit/formgate/internal/metrics"
	"github.com/fastsubmit/formgate/internal/reliability"
	"github.com/fastsubmit/formgate/internal/service"
)

// Reaper is implemented by limiters that keep buckets in process memory.
type Reaper interface {
	RunReaper(ctx context.Context, interval time.Duration)
}

type Options struct {
	Limiter         limiter.Limiter
	Limits          *config.DynamicLimits
	FailureStrategy reliability.FailureStrategy
	Resolver        *service.Resolver
	Guard           *service.Guard
	CORS            cors.Set
	ReapInterval    time.Duration
	SweepInterval   time.Duration
	Metrics         *metrics.Collector
	Logger          *zap.Logger
}

type State struct {
	limiter  limiter.Limiter
	limits   *config.DynamicLimits
	strategy reliability.FailureStrategy
	resolver *service.Resolver
	guard    *service.Guard
	cors     cors.Set

	reapInterval  time.Duration
	sweepInterval time.Duration

	metrics *metrics.Collector
	logger  *zap.Logger

	wg sync.WaitGroup
}

func New(opts Options) (*State, error) {
	switch {
	case opts.Limiter == nil:
		return nil, errors.New("admission: limiter is required")
	case opts.Limits == nil:
		return nil, errors.New("admission: limits are required")
	case opts.Resolver == nil || opts.Guard == nil:
		return nil, errors.New("admission: resolver and guard are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy := opts.FailureStrategy
	if strategy == "" {
		strategy = reliability.FailOpen
	}
	return &State{
		limiter:       opts.Limiter,
		limits:        opts.Limits,
		strategy:      strategy,
		resolver:      opts.Resolver,
		guard:         opts.Guard,
		cors:          opts.CORS,
		reapInterval:  opts.ReapInterval,
		sweepInterval: opts.SweepInterval,
		metrics:       opts.Metrics,
		logger:        logger,
	}, nil
}

func (s *State) Resolver() *service.Resolver           { return s.resolver }
func (s *State) Guard() *service.Guard                 { return s.guard }
func (s *State) CORS() cors.Set                        { return s.cors }
func (s *State) Limits() *config.DynamicLimits         { return s.limits }
func (s *State) Strategy() reliability.FailureStrategy { return s.strategy }

// AdmitSubmit checks the public submission class for identity.
func (s *State) AdmitSubmit(ctx context.Context, identity string) (limiter.Decision, error) {
	return s.admit(ctx, identity, s.limits.Get().Submit)
}

// AdmitManagement checks the management API class for identity.
func (s *State) AdmitManagement(ctx context.Context, identity string) (limiter.Decision, error) {
	return s.admit(ctx, identity, s.limits.Get().Management)
}

// admit never returns a backend error unwrapped. Under fail_open a backend
// failure admits the request with no budget information.
func (s *State) admit(ctx context.Context, identity string, class limiter.Class) (limiter.Decision, error) {
	d, err := s.limiter.Admit(ctx, identity, class)
	if err != nil {
		if errors.Is(err, limiter.ErrInvalidClass) {
			return limiter.Decision{}, apierr.Upstream(err)
		}
		if reliability.ShouldAllow(s.strategy, err) {
			s.logger.Warn("rate limiter unavailable, admitting",
				zap.String("class", class.Name),
				zap.Error(err),
			)
			return limiter.Decision{Allowed: true, Limit: class.MaxRequests, Remaining: -1}, nil
		}
		s.logger.Error("rate limiter unavailable, rejecting",
			zap.String("class", class.Name),
			zap.Error(err),
		)
		return limiter.Decision{}, apierr.Upstream(err)
	}
	if !d.Allowed {
		s.metrics.RateLimitRejected(class.Name)
	}
	return d, nil
}

// Start launches bucket reaping and cache sweeping. They stop when ctx is
// done; Wait blocks until they have.
func (s *State) Start(ctx context.Context) {
	if r, ok := s.limiter.(Reaper); ok && s.reapInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			r.RunReaper(ctx, s.reapInterval)
		}()
	}
	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.resolver.RunJanitor(ctx, s.sweepInterval)
		}()
	}
}

func (s *State) Wait() {
	s.wg.Wait()
}
