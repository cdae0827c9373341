/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps recently fetched track bodies so a track that comes
// round again in a room, or was preloaded on deck and evicted, does not hit
// the network twice.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/telemetry"
)

// KeyPrefix namespaces track bodies in Redis.
const KeyPrefix = "grooveboat:cache:track:"

const (
	DefaultTTL         = time.Hour
	DefaultMemoryBytes = 64 << 20
	DefaultMaxTrack    = 32 << 20
)

// Fetcher retrieves the full body of a track.
type Fetcher interface {
	Fetch(ctx context.Context, trackURL string) ([]byte, error)
}

// Config contains cache configuration. An empty RedisAddr keeps the cache
// in memory only.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TTL         time.Duration
	MemoryBytes int64 // budget for the in-process tier
	MaxTrack    int64 // larger bodies are never cached

	// Fallback behavior
	DisableOnError bool // stop using Redis after the first error
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:            DefaultTTL,
		MemoryBytes:    DefaultMemoryBytes,
		MaxTrack:       DefaultMaxTrack,
		DisableOnError: true,
	}
}

type entry struct {
	key  string
	body []byte
}

// TrackCache is a two tier cache: a byte-bounded LRU in process, then Redis
// when configured.
type TrackCache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.Mutex
	disabled bool // Redis circuit breaker
	lru      *list.List
	index    map[string]*list.Element
	size     int64
}

// New creates a track cache. An unreachable Redis leaves the memory tier in
// service.
func New(cfg Config, logger zerolog.Logger) *TrackCache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MemoryBytes <= 0 {
		cfg.MemoryBytes = def.MemoryBytes
	}
	if cfg.MaxTrack <= 0 {
		cfg.MaxTrack = def.MaxTrack
	}

	c := &TrackCache{
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
		lru:    list.New(),
		index:  make(map[string]*list.Element),
	}
	if cfg.RedisAddr == "" {
		c.disabled = true
		return c
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		c.logger.Warn().Err(err).Msg("redis track cache unavailable, caching in memory only")
		c.disabled = true
		return c
	}

	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("redis track cache initialized")
	c.client = client
	return c
}

// Close closes the Redis connection.
func (c *TrackCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// RedisAvailable reports whether the Redis tier is in use.
func (c *TrackCache) RedisAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disabled && c.client != nil
}

func (c *TrackCache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling redis track cache after error")
	}
}

// Get returns the cached body for trackURL.
func (c *TrackCache) Get(ctx context.Context, trackURL string) ([]byte, bool) {
	key := keyFor(trackURL)

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.lru.MoveToFront(el)
		body := el.Value.(*entry).body
		c.mu.Unlock()
		telemetry.TrackCacheLookups.WithLabelValues("memory").Inc()
		return body, true
	}
	c.mu.Unlock()

	if !c.RedisAvailable() {
		telemetry.TrackCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	body, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		c.handleError(err, "get")
		telemetry.TrackCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	telemetry.TrackCacheLookups.WithLabelValues("redis").Inc()
	c.remember(key, body)
	return body, true
}

// Set stores body for trackURL in both tiers.
func (c *TrackCache) Set(ctx context.Context, trackURL string, body []byte) {
	if int64(len(body)) > c.config.MaxTrack || len(body) == 0 {
		return
	}
	key := keyFor(trackURL)
	c.remember(key, body)

	if !c.RedisAvailable() {
		return
	}
	if err := c.client.Set(ctx, KeyPrefix+key, body, c.config.TTL).Err(); err != nil {
		c.handleError(err, "set")
	}
}

// Invalidate drops trackURL from both tiers.
func (c *TrackCache) Invalidate(ctx context.Context, trackURL string) {
	key := keyFor(trackURL)
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.evict(el)
	}
	c.mu.Unlock()

	if c.RedisAvailable() {
		if err := c.client.Del(ctx, KeyPrefix+key).Err(); err != nil {
			c.handleError(err, "delete")
		}
	}
}

// Size is the number of bytes held in memory.
func (c *TrackCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *TrackCache) remember(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.evict(el)
	}
	c.index[key] = c.lru.PushFront(&entry{key: key, body: body})
	c.size += int64(len(body))

	for c.size > c.config.MemoryBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.evict(oldest)
	}
}

// evict removes el. Caller holds mu.
func (c *TrackCache) evict(el *list.Element) {
	e := c.lru.Remove(el).(*entry)
	delete(c.index, e.key)
	c.size -= int64(len(e.body))
}

// Wrap returns a Fetcher that consults the cache before next.
func (c *TrackCache) Wrap(next Fetcher) Fetcher {
	return &cachedFetcher{cache: c, next: next}
}

type cachedFetcher struct {
	cache *TrackCache
	next  Fetcher
}

func (f *cachedFetcher) Fetch(ctx context.Context, trackURL string) ([]byte, error) {
	if body, ok := f.cache.Get(ctx, trackURL); ok {
		return body, nil
	}
	body, err := f.next.Fetch(ctx, trackURL)
	if err != nil {
		return nil, err
	}
	f.cache.Set(ctx, trackURL, body)
	return body, nil
}

// keyFor hashes the URL so presigned query strings do not leak into Redis
// key listings.
func keyFor(trackURL string) string {
	sum := sha256.Sum256([]byte(trackURL))
	return hex.EncodeToString(sum[:])
}
