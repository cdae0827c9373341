/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package buoy holds relay server credentials and the registry that persists
// them in the document store.
package buoy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/friendsincode/grooveboat/internal/docstore"
)

// DocID is the document holding every stored buoy.
const DocID = "buoys"

var (
	ErrInvalidToken = errors.New("buoy: invalid token")
	ErrNotStored    = errors.New("buoy: no stored buoy for url")
)

// Buoy is a relay server the client holds a session token for.
type Buoy struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Claims is the payload carried by invite and session tokens.
type Claims struct {
	URL  string `json:"u"`
	Name string `json:"n"`
	jwt.RegisteredClaims
}

// DecodeToken reads the claims of an invite or session token without
// verifying its signature. The buoy verifies tokens; the client only needs to
// know where to connect.
func DecodeToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.URL == "" {
		return nil, fmt.Errorf("%w: missing buoy url", ErrInvalidToken)
	}
	return claims, nil
}

type buoysDoc struct {
	Buoys []Buoy `json:"buoys"`
}

// Registry persists buoys under the "buoys" document.
type Registry struct {
	store docstore.Store
	mu    sync.Mutex
}

// NewRegistry creates a registry on store.
func NewRegistry(store docstore.Store) *Registry {
	return &Registry{store: store}
}

// List returns stored buoys in insertion order. A missing document is an
// empty list.
func (r *Registry) List(ctx context.Context) ([]Buoy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Buoys, nil
}

// Add stores b, replacing any buoy with the same URL.
func (r *Registry) Add(ctx context.Context, b Buoy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i := range doc.Buoys {
		if doc.Buoys[i].URL == b.URL {
			doc.Buoys[i] = b
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Buoys = append(doc.Buoys, b)
	}
	return r.store.Put(ctx, DocID, doc)
}

// Remove drops the buoy with url.
func (r *Registry) Remove(ctx context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load(ctx)
	if err != nil {
		return err
	}

	kept := doc.Buoys[:0]
	found := false
	for _, b := range doc.Buoys {
		if b.URL == url {
			found = true
			continue
		}
		kept = append(kept, b)
	}
	if !found {
		return ErrNotStored
	}
	doc.Buoys = kept
	return r.store.Put(ctx, DocID, doc)
}

func (r *Registry) load(ctx context.Context) (buoysDoc, error) {
	var doc buoysDoc
	err := r.store.Get(ctx, DocID, &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return buoysDoc{Buoys: []Buoy{}}, nil
	}
	if err != nil {
		return buoysDoc{}, fmt.Errorf("load buoys: %w", err)
	}
	if doc.Buoys == nil {
		doc.Buoys = []Buoy{}
	}
	return doc, nil
}
