package kling

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTTL       = 30 * time.Minute
	tokenClockSkew = 5 * time.Second
)

// TokenSource mints short-lived HS256 tokens from an access/secret key pair.
// A new token is signed for every request.
type TokenSource struct {
	accessKey string
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenSource(accessKey, secretKey string) (*TokenSource, error) {
	accessKey = strings.TrimSpace(accessKey)
	secretKey = strings.TrimSpace(secretKey)
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("kling: access key and secret key are required")
	}
	return &TokenSource{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
		ttl:       tokenTTL,
		now:       time.Now,
	}, nil
}

// Token returns a freshly signed bearer token.
func (s *TokenSource) Token() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		NotBefore: jwt.NewNumericDate(now.Add(-tokenClockSkew)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}
