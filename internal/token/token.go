// Copyright 2026 The AuthGrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token signs and verifies the JWTs issued by the service.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	TypePreAuth = "2fa_pre_auth"
)

// MinSecretLength is the minimum HMAC secret size accepted at startup.
const MinSecretLength = 32

var (
	ErrSecretTooShort = errors.New("token: signing secret must be at least 32 bytes")
	ErrTokenExpired   = errors.New("token: token expired")
	ErrInvalidToken   = errors.New("token: invalid token")
)

// Claims is the claim set used by every token the service mints.
type Claims struct {
	Type     string `json:"type"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	AZP      string `json:"azp,omitempty"`
	OrgID    string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// Signer creates and verifies HS256 tokens with a fixed algorithm allowlist.
type Signer struct {
	secret   []byte
	issuer   string
	audience string
	methods  []string
}

// NewSigner validates the secret length and returns a signer. The algorithm
// set is fixed here; tokens presenting any other header algorithm fail
// verification.
func NewSigner(secret []byte, issuer, audience string) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &Signer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		methods:  []string{jwt.SigningMethodHS256.Alg()},
	}, nil
}

// Create signs a token with the given claims, setting iat and exp relative
// to the current time.
func (s *Signer) Create(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.Issuer = s.issuer
	claims.Audience = jwt.ClaimStrings{s.audience}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token: failed to sign: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry and returns the claims. It never
// returns partial claims: any verification failure yields ErrTokenExpired or
// ErrInvalidToken.
func (s *Signer) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods(s.methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
