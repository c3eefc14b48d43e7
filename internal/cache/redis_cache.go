package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"apotekpos/backend/internal/domain"
)

type RedisRankingCache struct {
	client *redis.Client
}

func NewRedisRankingCache(addr string, password string, db int) *RedisRankingCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRankingCache{client: client}
}

func (c *RedisRankingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRankingCache) Close() error {
	return c.client.Close()
}

func (c *RedisRankingCache) Get(ctx context.Context, limit int) (*domain.StockRankingReport, bool, error) {
	val, err := c.client.Get(ctx, rankingKey(limit)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.StockRankingReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisRankingCache) Set(ctx context.Context, limit int, report *domain.StockRankingReport, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rankingKey(limit), payload, ttl).Err()
}

func rankingKey(limit int) string {
	return fmt.Sprintf("reports:stock-ranking:%d", limit)
}
