package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenSigner signs and validates HS256 session tokens with one secret and TTL.
// Access and refresh tokens each get their own signer.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

func NewTokenSigner(secret string, ttl time.Duration, issuer string) *TokenSigner {
	return &TokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
	}
}

func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Sign returns a token for accountID and its expiry, issuedAt + TTL.
func (s *TokenSigner) Sign(accountID uuid.UUID, issuedAt time.Time) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("signing secret is not configured", errors.CategoryInternal)
	}

	expiresAt := issuedAt.Add(s.ttl)
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString as of now. Any failure, expiry included, is
// reported as ErrInvalidSession.
func (s *TokenSigner) Validate(tokenString string, now time.Time) (*SessionClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, parserOptions...)
	if err != nil {
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
