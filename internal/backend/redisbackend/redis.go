// Package redisbackend stores records in Redis. Keys keep their full
// namespace so a SCAN over the application prefix enumerates them.
package redisbackend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

const opTimeout = 5 * time.Second

type Backend struct {
	client *redis.Client
	prefix string
}

func New(cfg *config.Config) (*Backend, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.Password == "" && cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.DB = cfg.Redis.DB
	opts.PoolSize = cfg.Redis.PoolSize
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	util.Info("Redis storage backend ready",
		zap.String("url", cfg.Redis.URL),
		zap.Int("db", cfg.Redis.DB))

	return &Backend{client: client, prefix: cfg.Storage.Prefix}, nil
}

func (b *Backend) Put(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *Backend) Fetch(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	value, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (b *Backend) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return b.client.Del(ctx, key).Err()
}

func (b *Backend) Keys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var keys []string
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		util.Error("failed to close Redis client", zap.Error(err))
		return err
	}
	util.Info("Redis storage backend closed")
	return nil
}
