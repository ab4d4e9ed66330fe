package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts a request in the current window atomically.
// KEYS[1] = bucket key
// ARGV[1] = window length in milliseconds
// Returns: {count, remaining_ttl_ms}
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisWindow is a fixed-window limiter whose counters live in Redis, so every
// instance behind a load balancer shares one budget per identity.
type RedisWindow struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewRedisWindow(client *redis.Client) *RedisWindow {
	return &RedisWindow{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		now:    time.Now,
	}
}

func (l *RedisWindow) Admit(ctx context.Context, identity string, class Class) (Decision, error) {
	if err := class.Validate(); err != nil {
		return Decision{}, err
	}

	res, err := l.script.Run(ctx, l.client, []string{bucketKey(identity, class)}, class.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis fixed window: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis fixed window: unexpected reply length %d", len(res))
	}

	count := int(res[0])
	ttl := time.Duration(res[1]) * time.Millisecond

	d := Decision{
		Allowed:   count <= class.MaxRequests,
		Limit:     class.MaxRequests,
		Remaining: remaining(class.MaxRequests, count),
		ResetAt:   l.now().Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

var _ Limiter = (*RedisWindow)(nil)
