package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidClass = errors.New("invalid limit class")
)

// Class is a named admission budget: at most MaxRequests per Window.
type Class struct {
	Name        string        `json:"name" mapstructure:"name"`
	MaxRequests int           `json:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `json:"window" mapstructure:"window"`
}

// Validate reports whether the class can be enforced.
func (c Class) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidClass)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: %s: max_requests must be positive", ErrInvalidClass, c.Name)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: %s: window must be positive", ErrInvalidClass, c.Name)
	}
	return nil
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// Limiter admits or rejects a request for an identity under a class.
// Implementations never block waiting for budget.
type Limiter interface {
	Admit(ctx context.Context, identity string, class Class) (Decision, error)
}

func bucketKey(identity string, class Class) string {
	return "ratelimit:" + class.Name + ":" + identity
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
