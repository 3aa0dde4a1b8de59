package redisquota

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/copyd/internal/records"
)

// fakeRedis evaluates the increment script in memory. It serializes calls
// the way a single Redis server does.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]int
	ttl  map[string]int64
	fail error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]int{}, ttl: map[string]int64{}}
}

func (f *fakeRedis) run(keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return redis.NewCmdResult(nil, f.fail)
	}
	ceiling, _ := strconv.Atoi(fmt.Sprint(args[0]))
	ttl, _ := strconv.ParseInt(fmt.Sprint(args[1]), 10, 64)

	current := f.data[keys[0]]
	if ceiling == 0 || (ceiling > 0 && current >= ceiling) {
		return redis.NewCmdResult([]interface{}{int64(current), int64(0)}, nil)
	}
	f.data[keys[0]] = current + 1
	if current == 0 {
		f.ttl[keys[0]] = ttl
	}
	return redis.NewCmdResult([]interface{}{int64(current + 1), int64(1)}, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args...)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args...)
}

func (f *fakeRedis) EvalRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args...)
}

func (f *fakeRedis) EvalShaRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args...)
}

func (f *fakeRedis) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedis) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func (f *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return redis.NewScanCmdResult(nil, 0, f.fail)
	}
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		if n, ok := f.data[k]; ok {
			vals[i] = strconv.Itoa(n)
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func TestCounter_IncrementToCeiling(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	c := New(fake, "", 0)

	for i := 1; i <= 3; i++ {
		count, allowed, err := c.IncrementUsage(ctx, "u1", "generation", "2026-03", 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, count)
	}
	count, allowed, err := c.IncrementUsage(ctx, "u1", "generation", "2026-03", 3)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, count)

	assert.Equal(t, int64(DefaultTTL/time.Second), fake.ttl["copyd:usage:u1:2026-03:generation"])
}

func TestCounter_CeilingEdgeCases(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeRedis(), "test", time.Hour)

	count, allowed, err := c.IncrementUsage(ctx, "u1", "audit", "2026-03", 0)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, count)

	for i := 0; i < 5; i++ {
		_, allowed, err = c.IncrementUsage(ctx, "u1", "audit", "2026-03", -1)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	_, _, err = c.IncrementUsage(ctx, "", "audit", "2026-03", 1)
	assert.ErrorIs(t, err, records.ErrInvalidRecord)
}

func TestCounter_ConcurrentNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeRedis(), "", 0)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := c.IncrementUsage(ctx, "u1", "recycle", "2026-03", 3); err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), allowed.Load())
}

func TestCounter_Usage(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeRedis(), "", 0)

	for _, cat := range []string{"generation", "generation", "audit"} {
		_, _, err := c.IncrementUsage(ctx, "u1", cat, "2026-03", -1)
		require.NoError(t, err)
	}
	_, _, err := c.IncrementUsage(ctx, "u1", "generation", "2026-02", -1)
	require.NoError(t, err)
	_, _, err = c.IncrementUsage(ctx, "u2", "generation", "2026-03", -1)
	require.NoError(t, err)

	usage, err := c.Usage(ctx, "u1", "2026-03")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"generation": 2, "audit": 1}, usage)

	empty, err := c.Usage(ctx, "nobody", "2026-03")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCounter_ErrorsAreStoreErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	fake.fail = errors.New("connection refused")
	c := New(fake, "", 0)

	_, _, err := c.IncrementUsage(ctx, "u1", "generation", "2026-03", 3)
	assert.True(t, records.IsStoreError(err))

	_, err = c.Usage(ctx, "u1", "2026-03")
	assert.True(t, records.IsStoreError(err))
}
