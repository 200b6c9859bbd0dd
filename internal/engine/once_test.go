package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/approval-gateway/internal/infra"
)

type fakeSetNX struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
	ttl  time.Duration
}

func (f *fakeSetNX) SetNX(_ context.Context, key string, _ interface{}, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	f.ttl = exp
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func TestRedisOnce_ClaimsOnce(t *testing.T) {
	store := &fakeSetNX{keys: map[string]bool{}}
	once := NewRedisOnce(store, 24*time.Hour)

	ok, err := once.Claim(context.Background(), "abc", "admin")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = once.Claim(context.Background(), "abc", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, store.keys[infra.RedisKeyApprovalClaim+"abc"])
	assert.Equal(t, 24*time.Hour, store.ttl)
}

func TestRedisOnce_PropagatesError(t *testing.T) {
	once := NewRedisOnce(&fakeSetNX{err: errors.New("i/o timeout")}, time.Hour)

	ok, err := once.Claim(context.Background(), "abc", "admin")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "i/o timeout")
}

func TestMemoryOnce_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	once := NewMemoryOnce(time.Hour)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := once.Claim(context.Background(), "k", "admin"); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestMemoryOnce_ExpiredClaimCanBeRetaken(t *testing.T) {
	once := NewMemoryOnce(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	once.now = func() time.Time { return now }

	ok, _ := once.Claim(context.Background(), "k", "")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = once.Claim(context.Background(), "k", "")
	assert.True(t, ok)
}

func TestClaimKey(t *testing.T) {
	assert.Equal(t, "abc", claimKey("abc", "v", "ts"))

	h1 := claimKey("", "pod|a|default|x", "1.1")
	h2 := claimKey("", "pod|a|default|x", "1.2")
	assert.NotEmpty(t, h1)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, claimKey("", "pod|a|default|x", "1.1"))

	assert.Empty(t, claimKey("", "pod|a|default|x", ""))
}
