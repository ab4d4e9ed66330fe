package config

import (
	"fmt"
	"sync"

	"github.com/fastsubmit/formgate/internal/limiter"
)

// LimitClasses holds the two rate limit classes the API applies.
type LimitClasses struct {
	Submit     limiter.Class `json:"submit"`
	Management limiter.Class `json:"management"`
}

func (l LimitClasses) Validate() error {
	if err := l.Submit.Validate(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := l.Management.Validate(); err != nil {
		return fmt.Errorf("management: %w", err)
	}
	return nil
}

// DynamicLimits lets operators swap the limit classes at runtime. Requests
// read a snapshot, so an update never changes a class mid-request.
type DynamicLimits struct {
	mu      sync.RWMutex
	classes LimitClasses
}

func NewDynamicLimits(rl RateLimitSettings) *DynamicLimits {
	return &DynamicLimits{
		classes: LimitClasses{
			Submit: limiter.Class{
				Name:        "submit",
				MaxRequests: rl.Submit.MaxRequests,
				Window:      rl.Submit.Window,
			},
			Management: limiter.Class{
				Name:        "api",
				MaxRequests: rl.Management.MaxRequests,
				Window:      rl.Management.Window,
			},
		},
	}
}

func (m *DynamicLimits) Get() LimitClasses {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.classes
}

// Update replaces both classes. Class names are fixed so bucket keys stay
// stable across updates.
func (m *DynamicLimits) Update(next LimitClasses) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next.Submit.Name = m.classes.Submit.Name
	next.Management.Name = m.classes.Management.Name
	if err := next.Validate(); err != nil {
		return err
	}
	m.classes = next
	return nil
}
