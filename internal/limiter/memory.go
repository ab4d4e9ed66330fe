package limiter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type bucket struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

// FixedWindow is an in-process fixed-window counter keyed by (class, identity).
//
// A caller can get up to 2x MaxRequests through across a window boundary.
type FixedWindow struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	logger  *zap.Logger
}

func NewFixedWindow(logger *zap.Logger) *FixedWindow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedWindow{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source (tests).
func (l *FixedWindow) WithClock(now func() time.Time) *FixedWindow {
	if now != nil {
		l.now = now
	}
	return l
}

// Admit never returns an error for a valid class.
func (l *FixedWindow) Admit(_ context.Context, identity string, class Class) (Decision, error) {
	if err := class.Validate(); err != nil {
		return Decision{}, err
	}

	key := bucketKey(identity, class)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= class.Window {
		l.buckets[key] = &bucket{windowStart: now, window: class.Window, count: 1}
		return Decision{
			Allowed:   true,
			Limit:     class.MaxRequests,
			Remaining: remaining(class.MaxRequests, 1),
			ResetAt:   now.Add(class.Window),
		}, nil
	}

	b.count++
	// The class may have been reloaded with a different window since the bucket opened.
	b.window = class.Window
	resetAt := b.windowStart.Add(class.Window)

	d := Decision{
		Allowed:   b.count <= class.MaxRequests,
		Limit:     class.MaxRequests,
		Remaining: remaining(class.MaxRequests, b.count),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
	}
	return d, nil
}

// Reap drops buckets whose window has elapsed and returns how many were removed.
func (l *FixedWindow) Reap() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= b.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunReaper calls Reap every interval until ctx is done.
func (l *FixedWindow) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Reap(); n > 0 {
				l.logger.Debug("reaped rate limit buckets", zap.Int("removed", n))
			}
		}
	}
}

var _ Limiter = (*FixedWindow)(nil)
