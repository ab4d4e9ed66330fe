package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/auth"
	"github.com/fastsubmit/formgate/internal/cache"
	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/metrics"
	"github.com/fastsubmit/formgate/internal/repository"
)

// ResolvedCredential maps an API key to the form and owner holding it.
type ResolvedCredential struct {
	OwnerID    string
	ResourceID string
	ResolvedAt time.Time
}

// CredentialLookup is the store query behind the resolver.
type CredentialLookup interface {
	FindFormByAPIKey(ctx context.Context, key string) (*db.Form, error)
}

// Resolver memoizes API key -> owner lookups for a ttl. Unknown keys are
// never cached, so a freshly issued key resolves on its first use.
type Resolver struct {
	lookup  CredentialLookup
	cache   *cache.MemoryCache[ResolvedCredential]
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	// epoch counts invalidations; a miss that overlaps one is not cached.
	mu    sync.Mutex
	epoch uint64
}

func NewResolver(lookup CredentialLookup, ttl time.Duration, m *metrics.Collector, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		lookup:  lookup,
		cache:   cache.NewMemoryCache[ResolvedCredential](ttl),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source (tests).
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	if now != nil {
		r.now = now
		r.cache.WithClock(now)
	}
	return r
}

// Resolve returns the credential for apiKey, or nil when no live form holds it.
// A store failure is returned as an upstream error and never as a match.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) (*ResolvedCredential, error) {
	if apiKey == "" {
		return nil, nil
	}

	if rc, ok := r.cache.Get(apiKey); ok {
		r.metrics.CacheLookup("hit")
		return &rc, nil
	}

	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()

	form, err := r.lookup.FindFormByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.metrics.CacheLookup("unknown")
			return nil, nil
		}
		r.metrics.CacheLookup("error")
		r.logger.Error("api key lookup failed", zap.String("key", auth.Redact(apiKey)), zap.Error(err))
		return nil, apierr.Upstream(err)
	}

	r.metrics.CacheLookup("miss")
	rc := ResolvedCredential{OwnerID: form.OwnerID, ResourceID: form.ID, ResolvedAt: r.now()}
	r.mu.Lock()
	if r.epoch == epoch {
		r.cache.Set(apiKey, rc)
	}
	r.mu.Unlock()
	return &rc, nil
}

// Invalidate drops apiKey before its ttl. Call it before acknowledging a
// rotation or deletion.
func (r *Resolver) Invalidate(apiKey string) {
	r.mu.Lock()
	r.epoch++
	r.cache.Delete(apiKey)
	r.mu.Unlock()
}

// RunJanitor sweeps expired entries every interval until ctx is done.
func (r *Resolver) RunJanitor(ctx context.Context, interval time.Duration) {
	r.cache.RunJanitor(ctx, interval)
}

// Size reports the number of cached entries.
func (r *Resolver) Size() int {
	return r.cache.Len()
}
