package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/approval-gateway/internal/infra"
)

// OnceGuard — маркер "это подтверждение уже исполнялось".
// Claim возвращает true только первому претенденту на ключ.
type OnceGuard interface {
	Claim(ctx context.Context, key, holder string) (bool, error)
}

// claimKey выбирает ключ маркера: ID запроса из block_id, иначе хэш значения и ts сообщения.
// Пустая строка — ключа нет, маркер поставить нельзя.
func claimKey(approvalID, value, messageTS string) string {
	if approvalID != "" {
		return approvalID
	}
	if messageTS == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value + "\x00" + messageTS))
	return "h:" + hex.EncodeToString(sum[:])
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisOnce хранит маркеры в Redis, общий для всех инстансов шлюза.
type RedisOnce struct {
	rdb setNXer
	ttl time.Duration
}

func NewRedisOnce(rdb setNXer, ttl time.Duration) *RedisOnce {
	return &RedisOnce{rdb: rdb, ttl: ttl}
}

func (o *RedisOnce) Claim(ctx context.Context, key, holder string) (bool, error) {
	ok, err := o.rdb.SetNX(ctx, infra.RedisKeyApprovalClaim+key, holder, o.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// MemoryOnce — маркеры в памяти процесса, когда Redis не настроен.
// Защищает только от повторов внутри одного инстанса.
type MemoryOnce struct {
	mu     sync.Mutex
	claims map[string]time.Time // key -> истечение
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryOnce(ttl time.Duration) *MemoryOnce {
	return &MemoryOnce{
		claims: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (o *MemoryOnce) Claim(_ context.Context, key, _ string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if exp, ok := o.claims[key]; ok && (o.ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	o.claims[key] = now.Add(o.ttl)
	o.gc(now)
	return true, nil
}

// gc удаляет истёкшие маркеры, чтобы карта не росла бесконечно.
func (o *MemoryOnce) gc(now time.Time) {
	if o.ttl <= 0 {
		return
	}
	for k, exp := range o.claims {
		if !now.Before(exp) {
			delete(o.claims, k)
		}
	}
}
