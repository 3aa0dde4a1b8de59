// Package redisquota keeps monthly usage counters in Redis for deployments
// running several copyd instances against one quota.
package redisquota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/copyd/internal/config"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/records"
)

// DefaultTTL keeps a period's counters long enough to report on the
// previous month.
const DefaultTTL = 62 * 24 * time.Hour

const scanBatch = 100

// incrScript increments KEYS[1] unless it reached ARGV[1]. A negative
// ceiling is unlimited; zero never increments. Returns {count, allowed}.
var incrScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local ceiling = tonumber(ARGV[1])
if ceiling == 0 or (ceiling > 0 and current >= ceiling) then
  return {current, 0}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {n, 1}
`)

// Client is the subset of the go-redis API the counter needs.
type Client interface {
	redis.Scripter
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

var (
	_ Client       = (*redis.Client)(nil)
	_ gate.Counter = (*Counter)(nil)
)

// Counter implements gate.Counter on Redis.
type Counter struct {
	client Client
	prefix string
	ttl    time.Duration
}

// New creates a counter. Keys are "<prefix>:<owner>:<period>:<category>".
func New(client Client, prefix string, ttl time.Duration) *Counter {
	if prefix == "" {
		prefix = "copyd:usage"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Counter{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Value(),
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (c *Counter) key(owner, period, category string) string {
	return c.prefix + ":" + owner + ":" + period + ":" + category
}

// IncrementUsage atomically increments the counter if below ceiling.
func (c *Counter) IncrementUsage(ctx context.Context, owner, category, period string, ceiling int) (int, bool, error) {
	if owner == "" || category == "" || period == "" {
		return 0, false, fmt.Errorf("%w: owner, category and period are required", records.ErrInvalidRecord)
	}

	res, err := incrScript.Run(ctx, c.client,
		[]string{c.key(owner, period, category)},
		ceiling, int64(c.ttl/time.Second)).Slice()
	if err != nil {
		return 0, false, &records.StoreError{Op: "redis increment usage", Err: err}
	}
	if len(res) != 2 {
		return 0, false, &records.StoreError{Op: "redis increment usage", Err: fmt.Errorf("unexpected reply %v", res)}
	}
	count, ok1 := res[0].(int64)
	allowed, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, &records.StoreError{Op: "redis increment usage", Err: fmt.Errorf("unexpected reply %v", res)}
	}
	return int(count), allowed == 1, nil
}

// Usage returns every counter of owner in period.
func (c *Counter) Usage(ctx context.Context, owner, period string) (map[string]int, error) {
	base := c.key(owner, period, "")
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, base+"*", scanBatch).Result()
		if err != nil {
			return nil, &records.StoreError{Op: "redis scan usage", Err: err}
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	usage := make(map[string]int, len(keys))
	if len(keys) == 0 {
		return usage, nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, &records.StoreError{Op: "redis read usage", Err: err}
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		usage[strings.TrimPrefix(keys[i], base)] = n
	}
	return usage, nil
}
