package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/approval-gateway/internal/domain"
	"github.com/xela07ax/approval-gateway/internal/infra"
	"go.uber.org/zap"
)

// FreezeAll замораживает исполнение для всех типов ресурсов.
const FreezeAll domain.ResourceType = "*"

type freezeStore interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// FreezeManager — аварийный стоп-кран для исполнения подтверждений.
// Подтверждение замороженного типа не исполняется и аудитируется как denied.
// Состояние живёт в Redis (множество + Pub/Sub), локально — только кэш для горячего пути.
type FreezeManager struct {
	mu     sync.RWMutex
	frozen map[domain.ResourceType]struct{}
	rdb    freezeStore
	logger *zap.Logger
}

func NewFreezeManager(rdb freezeStore, logger *zap.Logger) *FreezeManager {
	return &FreezeManager{
		frozen: make(map[domain.ResourceType]struct{}),
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "freeze")),
	}
}

// Init загружает текущее состояние из Redis, заменяя локальный кэш целиком.
func (m *FreezeManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}
	types, err := m.rdb.SMembers(ctx, infra.RedisKeyFrozenTypes).Result()
	if err != nil {
		return err
	}

	next := make(map[domain.ResourceType]struct{}, len(types))
	for _, t := range types {
		if rt := domain.ResourceType(t).Normalize(); rt != "" {
			next[rt] = struct{}{}
		}
	}

	m.mu.Lock()
	m.frozen = next
	m.mu.Unlock()
	return nil
}

// Seed применяет начальный набор из конфига.
// Без Redis конфиг — единственный источник, набор ложится в локальный кэш.
// С Redis набор заливается один раз за жизнь кластера: первый инстанс ставит постоянный
// маркер (SetNX без TTL) и пишет множество, остальные и последующие рестарты берут
// состояние из Redis, так что снятая оператором заморозка не возвращается.
func (m *FreezeManager) Seed(ctx context.Context, types []string) error {
	if m.rdb == nil {
		for _, t := range types {
			m.Set(domain.ResourceType(t), true)
		}
		return nil
	}

	first, err := m.rdb.SetNX(ctx, infra.RedisKeyFrozenSeeded, time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return fmt.Errorf("freeze seed marker: %w", err)
	}
	if !first {
		if len(types) > 0 {
			m.logger.Info("frozen set already seeded, executor.frozen ignored", zap.Strings("types", types))
		}
		return nil
	}

	members := make([]interface{}, 0, len(types))
	for _, t := range types {
		if rt := domain.ResourceType(t).Normalize(); rt != "" {
			members = append(members, string(rt))
		}
	}
	if len(members) > 0 {
		m.logger.Info("seeding frozen resource types", zap.Strings("types", types))
		if err := m.rdb.SAdd(ctx, infra.RedisKeyFrozenTypes, members...).Err(); err != nil {
			return fmt.Errorf("freeze seed: %w", err)
		}
	}
	// Кэш отражает Redis, а не конфиг: там могли быть типы, замороженные до маркера
	return m.Init(ctx)
}

func (m *FreezeManager) Set(rt domain.ResourceType, frozen bool) {
	rt = rt.Normalize()
	if rt == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if frozen {
		m.frozen[rt] = struct{}{}
	} else {
		delete(m.frozen, rt)
	}
}

func (m *FreezeManager) IsFrozen(rt domain.ResourceType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, all := m.frozen[FreezeAll]; all {
		return true
	}
	_, ok := m.frozen[rt.Normalize()]
	return ok
}

// Toggle — операторская команда: обновляет множество в Redis и рассылает сигнал всем инстансам.
// Сбой рассылки не критичен: инстансы перечитают множество при переподключении.
func (m *FreezeManager) Toggle(ctx context.Context, rt domain.ResourceType, frozen bool) error {
	rt = rt.Normalize()
	if rt == "" {
		return errors.New("freeze: empty resource type")
	}
	if m.rdb == nil {
		return errors.New("freeze: redis is not configured")
	}

	// 1. Состояние
	var err error
	if frozen {
		err = m.rdb.SAdd(ctx, infra.RedisKeyFrozenTypes, string(rt)).Err()
	} else {
		err = m.rdb.SRem(ctx, infra.RedisKeyFrozenTypes, string(rt)).Err()
	}
	if err != nil {
		return fmt.Errorf("freeze %s: %w", rt, err)
	}
	m.Set(rt, frozen)

	// 2. Real-time Signaling
	state := "off"
	if frozen {
		state = "on"
	}
	if err := m.rdb.Publish(ctx, infra.RedisChanFreeze, fmt.Sprintf("%s:%s", rt, state)).Err(); err != nil {
		m.logger.Warn("freeze signal delivery failed", zap.String("resource_type", string(rt)), zap.Error(err))
	}
	return nil
}

// Listen держит подписку на сигналы заморозки, пока жив ctx.
func (m *FreezeManager) Listen(ctx context.Context, rdb *redis.Client) {
	ListenStateResilient(ctx, rdb, m.logger, infra.RedisChanFreeze,
		func() error { return m.Init(ctx) },
		func(id string, on bool) {
			m.logger.Info("freeze signal", zap.String("resource_type", id), zap.Bool("frozen", on))
			m.Set(domain.ResourceType(id), on)
		},
	)
}

// parseSignal разбирает "resource_type:on|off" (также true/false).
func parseSignal(payload string) (id string, on bool, ok bool) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 || i == len(payload)-1 {
		return "", false, false
	}
	id, state := payload[:i], strings.ToLower(payload[i+1:])
	switch state {
	case "on", "true":
		return id, true, true
	case "off", "false":
		return id, false, true
	}
	return "", false, false
}
