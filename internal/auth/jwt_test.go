package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{Holder: "phone", Scopes: []string{ScopeControl}}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Holder != "phone" || claims.Subject != "phone" {
		t.Fatalf("holder = %q subject = %q", claims.Holder, claims.Subject)
	}
	if !claims.Allows(ScopeRead) {
		t.Fatal("control scope should allow read")
	}
}

func TestParseRejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		Holder: "phone",
		Scopes: []string{ScopeControl},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "grooveboat",
		},
	}

	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatal("expected parse to reject non-HS256 token")
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	secret := []byte("test-secret")

	expired, err := Issue(secret, Claims{Holder: "old", Scopes: []string{ScopeRead}}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, expired); err == nil {
		t.Fatal("expected expired token rejected")
	}

	other, err := Issue([]byte("other-secret"), Claims{Holder: "x", Scopes: []string{ScopeRead}}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, other); err == nil {
		t.Fatal("expected token signed with another secret rejected")
	}
}

func TestIssueRequiresSecret(t *testing.T) {
	if _, err := Issue(nil, Claims{Holder: "x"}, time.Hour); err == nil {
		t.Fatal("expected empty secret to fail")
	}
}
