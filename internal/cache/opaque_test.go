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
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

var hexToken = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestOpaqueStore_StoreVerifyDelete(t *testing.T) {
	c, _ := newTestCache(t)
	store := NewOpaqueStore(c, "verify_token", 10*time.Minute)
	ctx := context.Background()

	token, err := store.Store(ctx, "user-1", "483920")
	require.NoError(t, err)
	assert.Regexp(t, hexToken, token)

	userID, err := store.Verify(ctx, token, "483920")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	require.NoError(t, store.Delete(ctx, token))
	_, err = store.Verify(ctx, token, "483920")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Idempotent: a second delete of the same token succeeds.
	assert.NoError(t, store.Delete(ctx, token))
}

func TestOpaqueStore_WrongCode(t *testing.T) {
	c, _ := newTestCache(t)
	store := NewOpaqueStore(c, "reset_token", time.Minute)
	ctx := context.Background()

	token, err := store.Store(ctx, "user-1", "111111")
	require.NoError(t, err)

	_, err = store.Verify(ctx, token, "222222")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A failed verify does not consume the token.
	userID, err := store.Verify(ctx, token, "111111")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestOpaqueStore_Expiry(t *testing.T) {
	c, mr := newTestCache(t)
	store := NewOpaqueStore(c, "verify_token", 10*time.Minute)
	ctx := context.Background()

	token, err := store.Store(ctx, "user-1", "654321")
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)

	_, err = store.Verify(ctx, token, "654321")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOpaqueStore_EmptyInputs(t *testing.T) {
	c, _ := newTestCache(t)
	store := NewOpaqueStore(c, "verify_token", time.Minute)
	ctx := context.Background()

	_, err := store.Verify(ctx, "", "123456")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = store.Verify(ctx, "deadbeef", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOpaqueStore_DistinctTokens(t *testing.T) {
	c, _ := newTestCache(t)
	store := NewOpaqueStore(c, "verify_token", time.Minute)
	ctx := context.Background()

	t1, err := store.Store(ctx, "user-1", "123456")
	require.NoError(t, err)
	t2, err := store.Store(ctx, "user-1", "123456")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}

func TestCache_GetSetDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_DeleteMatching(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "auth:check:u1:o1:doc:read", "true", time.Minute))
	require.NoError(t, c.Set(ctx, "auth:check:u1:o1:doc:write", "false", time.Minute))
	require.NoError(t, c.Set(ctx, "auth:check:u2:o1:doc:read", "true", time.Minute))

	n, err := c.DeleteMatching(ctx, "auth:check:u1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.Get(ctx, "auth:check:u1:o1:doc:read")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "auth:check:u2:o1:doc:read")
	assert.NoError(t, err)
}

func TestCache_IncrementWindow(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.Increment(ctx, "2fa_attempts:user-1:totp", 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// Counter resets once the window elapses.
	mr.FastForward(6 * time.Minute)
	n, err := c.Increment(ctx, "2fa_attempts:user-1:totp", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCache_DeleteNoKeys(t *testing.T) {
	c, _ := newTestCache(t)
	assert.NoError(t, c.Delete(context.Background()))
}

func TestCache_GetWrapsTransportErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(client)
	mr.Close()
	_ = client.Close()

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
