package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFixedWindow_RejectsAfterLimitAndReportsRetryAfter(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(nil).WithClock(clock.Now)
	class := Class{Name: "test", MaxRequests: 2, Window: time.Second}
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		if i > 0 {
			clock.Advance(100 * time.Millisecond)
		}
		d, err := l.Admit(ctx, "X", class)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if d.Allowed != want {
			t.Fatalf("request %d: allowed=%v, want %v", i, d.Allowed, want)
		}
		if i == 2 && d.RetryAfter != 800*time.Millisecond {
			t.Errorf("expected retry after 800ms, got %v", d.RetryAfter)
		}
	}
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(nil).WithClock(clock.Now)
	class := Class{Name: "submit", MaxRequests: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, _ := l.Admit(ctx, "ip:1", class); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if d, _ := l.Admit(ctx, "ip:1", class); d.Allowed {
		t.Fatal("request 4 should be rejected")
	}

	clock.Advance(time.Minute + time.Millisecond)

	d, err := l.Admit(ctx, "ip:1", class)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !d.Allowed {
		t.Fatal("request after window should be allowed")
	}
	if d.Remaining != 2 {
		t.Errorf("expected count reset to 1 (remaining 2), got remaining %d", d.Remaining)
	}
}

func TestFixedWindow_WindowBoundaryIsInclusive(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(nil).WithClock(clock.Now)
	class := Class{Name: "c", MaxRequests: 1, Window: time.Second}
	ctx := context.Background()

	l.Admit(ctx, "a", class)
	clock.Advance(time.Second)
	if d, _ := l.Admit(ctx, "a", class); !d.Allowed {
		t.Fatal("request exactly one window later should open a new window")
	}
}

func TestFixedWindow_IdentitiesAreIndependent(t *testing.T) {
	l := NewFixedWindow(nil).WithClock(newFakeClock().Now)
	class := Class{Name: "c", MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	l.Admit(ctx, "A", class)
	if d, _ := l.Admit(ctx, "A", class); d.Allowed {
		t.Fatal("A should be limited")
	}
	if d, _ := l.Admit(ctx, "B", class); !d.Allowed {
		t.Fatal("B must not be affected by A")
	}
}

func TestFixedWindow_ClassesAreIndependent(t *testing.T) {
	l := NewFixedWindow(nil).WithClock(newFakeClock().Now)
	strict := Class{Name: "submit", MaxRequests: 1, Window: time.Minute}
	loose := Class{Name: "management", MaxRequests: 5, Window: time.Minute}
	ctx := context.Background()

	l.Admit(ctx, "ip:1", strict)
	if d, _ := l.Admit(ctx, "ip:1", loose); !d.Allowed {
		t.Fatal("exhausting one class must not consume another")
	}
}

func TestFixedWindow_InvalidClass(t *testing.T) {
	l := NewFixedWindow(nil)
	_, err := l.Admit(context.Background(), "a", Class{Name: "bad", MaxRequests: 0, Window: time.Second})
	if !errors.Is(err, ErrInvalidClass) {
		t.Fatalf("expected ErrInvalidClass, got %v", err)
	}
}

func TestFixedWindow_Reap(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(nil).WithClock(clock.Now)
	ctx := context.Background()

	l.Admit(ctx, "old", Class{Name: "c", MaxRequests: 1, Window: time.Second})
	clock.Advance(500 * time.Millisecond)
	l.Admit(ctx, "new", Class{Name: "c", MaxRequests: 1, Window: time.Second})
	clock.Advance(600 * time.Millisecond)

	if n := l.Reap(); n != 1 {
		t.Fatalf("expected 1 reaped bucket, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 live bucket, got %d", l.Len())
	}
}

func TestFixedWindow_ConcurrentAdmits(t *testing.T) {
	l := NewFixedWindow(nil)
	class := Class{Name: "c", MaxRequests: 100, Window: time.Hour}
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := l.Admit(ctx, "shared", class)
			allowed <- d.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 100 {
		t.Errorf("expected exactly 100 admitted, got %d", count)
	}
}
