// Package identity verifies bearer credentials issued by the account service.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Meet/internal/domain"
)

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("credential expired")
)

// JWTVerifier accepts HS256 tokens whose subject is the user id.
// Tokens signed with the previous secret are still accepted during rotation.
type JWTVerifier struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

func NewJWTVerifier(currentSecret, previousSecret string, leeway time.Duration) *JWTVerifier {
	v := &JWTVerifier{
		currentSecret: []byte(currentSecret),
		leeway:        leeway,
	}
	if previousSecret != "" {
		v.previousSecret = []byte(previousSecret)
	}
	return v
}

// Verify returns the user id carried by credential. A cancelled ctx denies.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (domain.UserID, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrInvalidCredential
	}
	if credential == "" {
		return "", ErrInvalidCredential
	}

	sub, err := v.parse(credential, v.currentSecret)
	if err != nil && v.previousSecret != nil && !errors.Is(err, ErrExpiredCredential) {
		sub, err = v.parse(credential, v.previousSecret)
	}
	if err != nil {
		return "", err
	}
	return domain.UserID(sub), nil
}

func (v *JWTVerifier) parse(credential string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredential
		}
		return "", ErrInvalidCredential
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidCredential
	}
	return claims.Subject, nil
}

// Issue signs a credential for userID. Used by tests and local tooling.
func (v *JWTVerifier) Issue(userID domain.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.currentSecret)
}
