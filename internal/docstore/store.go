/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package docstore is the client's local key-value document store. Documents
// are JSON bodies addressed by a slash separated id ("buoys", "queues/<id>",
// "rooms/<id>/admin").
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/grooveboat/internal/config"
	"github.com/friendsincode/grooveboat/internal/telemetry"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get when no document has the id.
var ErrNotFound = errors.New("docstore: document not found")

// Store reads and writes JSON documents.
type Store interface {
	// Get decodes the document into out.
	Get(ctx context.Context, id string, out any) error
	// Put replaces the document with doc encoded as JSON.
	Put(ctx context.Context, id string, doc any) error
	// Remove deletes the document. Removing a missing document is not an error.
	Remove(ctx context.Context, id string) error
	Close() error
}

// Open builds the store selected by cfg.DocStoreBackend.
func Open(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.DocStoreBackend {
	case config.DocStoreMemory:
		return NewMemory(), nil
	case config.DocStoreRedis:
		return NewRedis(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
	case config.DocStoreSQLite, config.DocStorePostgres, config.DocStoreMySQL:
		return NewGorm(cfg.DocStoreBackend, cfg.DocStoreDSN, logger)
	default:
		return nil, fmt.Errorf("unknown docstore backend: %s", cfg.DocStoreBackend)
	}
}

func encode(id string, doc any) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}
	return body, nil
}

func decode(id string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	return nil
}

// observe records latency and non-NotFound failures for one operation.
func observe(backend, op string, started time.Time, err error) {
	telemetry.DocStoreOpDuration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) {
		telemetry.DocStoreErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}
