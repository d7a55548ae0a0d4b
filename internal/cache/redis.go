package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/scoutcard/internal/config"
)

// Redis хранилище поверх redis, ключи складываются под общий префикс.
type Redis struct {
	Db     *redis.Client
	prefix string
}

// InitRedis подключается к redis и проверяет соединение.
func InitRedis(ctx context.Context, cfg config.RedisConnection, prefix string) (*Redis, error) {
	const op = "cache.InitRedis"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Redis{Db: db, prefix: prefix}, nil
}

func (c *Redis) key(k string) string {
	return c.prefix + k
}

func (c *Redis) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.Redis.Get"
	val, err := c.Db.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal([]byte(val), result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value any) error {
	const op = "cache.Redis.Set"
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.Db.Set(ctx, c.key(key), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, key string) error {
	const op = "cache.Redis.Invalidate"
	if err := c.Db.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает соединение с redis.
func (c *Redis) Close() error {
	return c.Db.Close()
}
