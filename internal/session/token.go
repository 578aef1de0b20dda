package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "tenant-context-service"

// sessionClaims carries nothing but the session id. Privileges always come
// from the stored session record.
type sessionClaims struct {
	Sid string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies bearer tokens for context sessions.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

func NewTokenCodec(secret []byte) *TokenCodec {
	return &TokenCodec{secret: secret, now: time.Now}
}

// Issue returns a signed token for sessionID that expires at expiresAt.
func (c *TokenCodec) Issue(sessionID uuid.UUID, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		Sid: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Parse verifies token and returns the session id it names.
func (c *TokenCodec) Parse(token string) (uuid.UUID, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return uuid.Nil, ErrExpiredSession
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	id, err := uuid.Parse(claims.Sid)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad session id", ErrInvalidSession)
	}
	return id, nil
}
