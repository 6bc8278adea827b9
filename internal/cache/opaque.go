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

package cache

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// opaqueTokenBytes yields 32 hex characters per token.
const opaqueTokenBytes = 16

// ErrInvalidToken is returned by Verify for a missing, expired, or
// code-mismatched token. Callers must not distinguish the cases.
var ErrInvalidToken = errors.New("cache: invalid or expired token")

// OpaqueStore maps random opaque tokens to a (user, code) pair with a TTL.
// It backs email verification, password reset, and similar short-lived
// challenges: the token travels in a link or response body, the code in a
// separate channel.
type OpaqueStore struct {
	cache  *Cache
	prefix string
	ttl    time.Duration
}

// NewOpaqueStore creates a store whose keys live under prefix with the
// given TTL.
func NewOpaqueStore(c *Cache, prefix string, ttl time.Duration) *OpaqueStore {
	return &OpaqueStore{cache: c, prefix: prefix, ttl: ttl}
}

// TTL reports the configured lifetime, for expires_in style responses.
func (s *OpaqueStore) TTL() time.Duration {
	return s.ttl
}

// Store generates a fresh opaque token bound to (userID, code) and writes it
// with the store's TTL.
func (s *OpaqueStore) Store(ctx context.Context, userID, code string) (string, error) {
	raw := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("cache: failed to generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := s.cache.Set(ctx, s.key(token), userID+":"+code, s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Verify looks up the token and compares the presented code in constant
// time. On success it returns the bound user id; every failure mode returns
// ErrInvalidToken.
func (s *OpaqueStore) Verify(ctx context.Context, token, code string) (string, error) {
	if token == "" || code == "" {
		return "", ErrInvalidToken
	}

	stored, err := s.cache.Get(ctx, s.key(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}

	userID, storedCode, ok := strings.Cut(stored, ":")
	if !ok {
		return "", ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(storedCode), []byte(code)) != 1 {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Delete removes the token. Deleting an unknown token succeeds.
func (s *OpaqueStore) Delete(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, s.key(token))
}

func (s *OpaqueStore) key(token string) string {
	return s.prefix + ":" + token
}
