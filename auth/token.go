// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/segmentio/ksuid"
)

// Error messages.
var (
	ErrConfigNotValid = errors.New("auth: token config is not valid")
	ErrSigningMethod  = "auth: unexpected signing method: %v"
	ErrTokenInvalid   = errors.New("auth: token is not valid")
)

// allowed algorithms.
const (
	HS256 = "HS256"
	HS384 = "HS384"
	HS512 = "HS512"
)

// claimKey is the context key of the parsed claim.
type claimKey struct{}

// Claim holds the identity of a signed token.
type Claim struct {
	jwt.StandardClaims

	UID   int64    `json:"uid"`
	Name  string   `json:"name"`
	Login string   `json:"login"`
	Roles []string `json:"roles"`
}

// ClaimFromContext returns the claim a verified request carries.
func ClaimFromContext(ctx context.Context) (*Claim, error) {
	c, ok := ctx.Value(claimKey{}).(*Claim)
	if !ok {
		return nil, ErrNoClaim
	}
	return c, nil
}

// WithClaim attaches a claim to the context.
func WithClaim(ctx context.Context, c *Claim) context.Context {
	return context.WithValue(ctx, claimKey{}, c)
}

// TokenConfig of the token generator.
type TokenConfig struct {
	Alg        string        `json:"alg"`
	SignKey    string        `json:"signKey"`
	Issuer     string        `json:"issuer"`
	Expiration time.Duration `json:"expiration"`
}

// valid checks the mandatory fields and the algorithm.
func (c TokenConfig) valid() bool {
	if c.SignKey == "" || c.Expiration == 0 {
		return false
	}
	switch strings.ToUpper(c.Alg) {
	case HS256, HS384, HS512:
		return true
	}
	return false
}

// Token generates and parses signed JWT tokens.
type Token struct {
	config  TokenConfig
	keyFunc jwt.Keyfunc
}

// NewToken creates a token instance.
// Error will return if the config is invalid.
func NewToken(config TokenConfig) (*Token, error) {
	if !config.valid() {
		return nil, ErrConfigNotValid
	}
	t := &Token{config: config}
	t.keyFunc = func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf(ErrSigningMethod, token.Header["alg"])
		}
		return []byte(t.config.SignKey), nil
	}
	return t, nil
}

// Generate signs a new token for the identity.
func (t *Token) Generate(uid int64, name string, login string, roles []string) (string, error) {
	now := time.Now()
	claim := &Claim{
		UID:   uid,
		Name:  name,
		Login: login,
		Roles: roles,
	}
	claim.Id = ksuid.New().String()
	claim.IssuedAt = now.Unix()
	claim.NotBefore = now.Unix()
	claim.ExpiresAt = now.Add(t.config.Expiration).Unix()
	claim.Issuer = t.config.Issuer

	token := jwt.NewWithClaims(jwt.GetSigningMethod(strings.ToUpper(t.config.Alg)), claim)
	return token.SignedString([]byte(t.config.SignKey))
}

// Parse verifies a signed token and returns its claim.
func (t *Token) Parse(signed string) (*Claim, error) {
	claim := &Claim{}
	token, err := jwt.ParseWithClaims(signed, claim, t.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claim, nil
}

// Verify implements the rest guard. The token is expected as Authorization Bearer
// header, the claim is attached to the returned context.
func (t *Token) Verify(r *http.Request) (context.Context, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, ErrTokenInvalid
	}
	claim, err := t.Parse(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, err
	}
	return WithClaim(r.Context(), claim), nil
}
