package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenStateResilient — цикл "живучей" подписки на сигналы Redis.
// Обрабатывает переподключения, логирование и разбор сигналов.
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // Синхронизация полного состояния при каждом коннекте
	onMessage func(id string, status bool),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		// Сигналы могли пропасть, пока подписки не было
		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.String("chan", channel), zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				id, status, valid := parseSignal(msg.Payload)
				if !valid {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(id, status)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
