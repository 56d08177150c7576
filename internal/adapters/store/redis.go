package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/infra/metrics"
)

// Redis реализует domain.Store через Redis. Значения хранятся без TTL:
// реестр и журнал должны переживать перезапуск.
type Redis struct {
	client *redis.Client
}

var _ domain.Store = (*Redis)(nil)

// NewRedis создаёт хранилище поверх готового клиента.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Load возвращает значение ключа.
func (r *Redis) Load(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	raw, err := r.client.Get(ctx, key).Bytes()
	metrics.ObserveNetworkRequest("redis", "get", key, start, err)
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Save сохраняет значение ключа.
func (r *Redis) Save(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := r.client.Set(ctx, key, value, 0).Err()
	metrics.ObserveNetworkRequest("redis", "set", key, start, err)
	return err
}
