package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных шлюза в Redis
	RedisNamespace = "approval-gw"
)

// Ключи (состояние)
const (
	// RedisKeyApprovalClaim — префикс маркера "подтверждение уже исполнено" (SETNX).
	RedisKeyApprovalClaim = RedisNamespace + ":approvals:claimed:"
	// RedisKeyFrozenTypes — множество типов ресурсов, для которых исполнение заморожено ("*" = все).
	RedisKeyFrozenTypes = RedisNamespace + ":dispatch:frozen_set"
	// RedisKeyFrozenSeeded — постоянный маркер (без TTL): начальный набор из конфига уже залит.
	// Пока он есть, множеством владеют операторы, executor.frozen игнорируется.
	RedisKeyFrozenSeeded = RedisNamespace + ":dispatch:frozen_seeded"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanFreeze — сигналы "resource_type:on|off" от операторов.
	RedisChanFreeze = RedisNamespace + ":dispatch:freeze-signal"
)
