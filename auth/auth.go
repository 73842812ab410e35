// Package auth resolves caller identity into a serialization level.
// Documents are rendered through their public field partition for anonymous
// callers and through the authenticated partition for callers presenting a
// valid token.
package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/miradordb/mirador/document"
)

// Claims carried by access tokens. Only the subject is used for now.
type Claims struct {
	jwt.RegisteredClaims
}

// LevelFromToken validates an HS256 token and returns the caller's level
// and subject. An empty token is not an error: the caller is anonymous.
func LevelFromToken(raw string, secret []byte) (document.Level, string, error) {
	if raw == "" {
		return document.Public, "", nil
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return document.Public, "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return document.Public, "", fmt.Errorf("invalid token")
	}
	return document.Authenticated, claims.Subject, nil
}

// ParseBearer extracts the token from an "Authorization: Bearer ..." value.
// A missing or differently-schemed header yields an empty token.
func ParseBearer(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// NewToken mints a signed token for subject. Used by tooling and tests.
func NewToken(subject string, secret []byte) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
