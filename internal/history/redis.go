package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"telemetry-dashboard/internal/models"
)

// RedisStore хранит историю в одном ключе Redis
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore создает новое подключение к Redis
func NewRedisStore(ctx context.Context, addr, password string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, key), nil
}

// NewRedisStoreFromClient оборачивает существующий клиент
func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key}
}

// Load читает историю из Redis
func (r *RedisStore) Load(ctx context.Context) (models.Series, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Series{}, nil
	}
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to load history: %w", err)
	}
	return decode(data), nil
}

// Save перезаписывает историю целиком
func (r *RedisStore) Save(ctx context.Context, series models.Series) error {
	data, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Clear удаляет историю
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// Client возвращает клиент Redis для смежных компонентов
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// Ping проверяет соединение с Redis
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisStore) Close() error {
	return r.client.Close()
}
