// Package cache хранит итоги проведённых розыгрышей в Redis.
// Итог розыгрыша неизменен до административного сброса. Сброс увеличивает поколение,
// и записи прежних поколений перестают читаться.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "lottery:winners:"
	generationKey = "lottery:winners-generation"
)

// RedisCache хранит идентификаторы победителей по лотереям.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache создаёт кэш поверх клиента Redis. Нулевой ttl означает хранение без срока.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

// Connect подключается к Redis по адресу и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(generation int64, lotteryID string) string {
	return keyPrefix + strconv.FormatInt(generation, 10) + ":" + lotteryID
}

// Generation возвращает текущее поколение данных. До первого сброса оно равно нулю.
func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return gen, nil
}

// Winners возвращает победителей лотереи в поколении generation.
// Второе значение false, если итога в кэше нет.
func (c *RedisCache) Winners(ctx context.Context, generation int64, lotteryID string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, key(generation, lotteryID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get winners: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, fmt.Errorf("decode winners: %w", err)
	}
	return ids, true, nil
}

// StoreWinners сохраняет победителей лотереи в поколении generation.
func (c *RedisCache) StoreWinners(ctx context.Context, generation int64, lotteryID string, userIDs []string) error {
	if userIDs == nil {
		userIDs = []string{}
	}

	data, err := json.Marshal(userIDs)
	if err != nil {
		return fmt.Errorf("encode winners: %w", err)
	}

	if err := c.client.Set(ctx, key(generation, lotteryID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set winners: %w", err)
	}
	return nil
}

// Flush начинает новое поколение и удаляет итоги прежних.
func (c *RedisCache) Flush(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("bump generation: %w", err)
	}

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan winners: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete winners: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
