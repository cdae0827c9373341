/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth guards the local control surface. Tokens are HS256 JWTs
// signed with a secret only the owner of the client knows.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes a control token can carry.
const (
	ScopeControl = "control" // room intents
	ScopeRead    = "read"    // logs
)

// ErrMissingScope is returned when a valid token lacks the required scope.
var ErrMissingScope = errors.New("auth: token lacks required scope")

// Claims names who holds the token and what it may do.
type Claims struct {
	Holder string   `json:"holder"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Allows reports whether scope is granted. Control implies read.
func (c *Claims) Allows(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || (s == ScopeControl && scope == ScopeRead) {
			return true
		}
	}
	return false
}

// Issue creates a token string.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("issue control token: empty secret")
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    "grooveboat",
		Subject:   claims.Holder,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates a token string. Only HS256 is accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer("grooveboat"))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
