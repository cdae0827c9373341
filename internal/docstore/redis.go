/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KeyPrefix namespaces document keys in Redis.
const KeyPrefix = "grooveboat:doc:"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis stores each document as a string key.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects and pings. Unlike a cache, a document store that cannot
// reach its server is an error.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis docstore %s: %w", cfg.Addr, err)
	}

	logger.Debug().Str("addr", cfg.Addr).Msg("redis docstore ready")
	return NewRedisWithClient(client, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, logger zerolog.Logger) *Redis {
	return &Redis{client: client, logger: logger.With().Str("component", "docstore").Logger()}
}

func (r *Redis) Get(ctx context.Context, id string, out any) (err error) {
	started := time.Now()
	defer func() { observe("redis", "get", started, err) }()

	body, err := r.client.Get(ctx, KeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", id, err)
	}
	return decode(id, body, out)
}

func (r *Redis) Put(ctx context.Context, id string, doc any) (err error) {
	started := time.Now()
	defer func() { observe("redis", "put", started, err) }()

	body, err := encode(id, doc)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, KeyPrefix+id, body, 0).Err(); err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() { observe("redis", "remove", started, err) }()

	if err := r.client.Del(ctx, KeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
