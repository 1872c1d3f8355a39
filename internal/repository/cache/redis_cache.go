// Package cache implements repository.ScheduleCache in redis and in process.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loan_manager/internal/domain"
	"loan_manager/internal/repository"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "loan_manager:schedule:"

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Connect dials addr and checks the server answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisCache) Get(ctx context.Context, loanID string) ([]domain.Installment, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+loanID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get schedule %s: %w", loanID, err)
	}

	var schedule []domain.Installment
	if err := json.Unmarshal(val, &schedule); err != nil {
		return nil, false, fmt.Errorf("decode schedule %s: %w", loanID, err)
	}
	return schedule, true, nil
}

func (r *RedisCache) Set(ctx context.Context, loanID string, schedule []domain.Installment) error {
	data, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("encode schedule %s: %w", loanID, err)
	}
	return r.client.Set(ctx, keyPrefix+loanID, data, r.ttl).Err()
}

var _ repository.ScheduleCache = (*RedisCache)(nil)
