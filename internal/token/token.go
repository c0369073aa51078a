// Package token mints and verifies per-game viewer capability tokens.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "chess-rooms"

var ErrInvalid = errors.New("invalid viewer token")

// Issuer signs HS256 tokens whose subject is an opaque viewer id and whose
// audience is the single game they are valid for.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer uses secret, or a random per-process key when secret is empty
// (tokens then die with the process). ttl<=0 means no expiry.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
	}
	return &Issuer{secret: key, ttl: ttl}, nil
}

// Mint returns a signed token for gameID and its subject.
func (i *Issuer) Mint(gameID string) (signed, subject string, err error) {
	now := time.Now()
	subject = uuid.NewString()
	claims := jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  subject,
		Audience: jwt.ClaimStrings{gameID},
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, subject, nil
}

// Verify returns the subject of a token valid for gameID.
func (i *Issuer) Verify(signed, gameID string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(signed, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(gameID),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}
