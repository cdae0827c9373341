/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package docstore

import (
	"context"
	"sync"
)

// Memory keeps documents in process. Used by tests and throwaway sessions.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, id string, out any) error {
	m.mu.RLock()
	body, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decode(id, body, out)
}

func (m *Memory) Put(_ context.Context, id string, doc any) error {
	body, err := encode(id, doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[id] = body
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
