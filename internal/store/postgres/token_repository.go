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

package postgres

import (
	"context"
	"fmt"

	"github.com/authgrid/authgrid/internal/oauth"
)

// TokenRepository implements oauth.TokenRepository
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new refresh token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Save persists a refresh token record
func (r *TokenRepository) Save(ctx context.Context, record *oauth.RefreshTokenRecord) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token, user_id, jti, client_id, scope, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.Token, record.UserID, record.JTI, record.ClientID, record.Scope,
		record.ExpiresAt, record.Revoked, record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oauth.ErrDuplicateJTI
		}
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// Validate reports whether a live record exists for (userID, token)
func (r *TokenRepository) Validate(ctx context.Context, userID, tokenValue string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens
			WHERE user_id = $1 AND token = $2 AND revoked = false AND expires_at > NOW()
		)
	`, userID, tokenValue).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to validate refresh token: %w", err)
	}
	return exists, nil
}

// Revoke marks a single refresh token revoked. The revoked = false
// predicate makes the claim atomic: when two rotations race, exactly one
// UPDATE hits the row and the loser sees ErrTokenNotFound.
func (r *TokenRepository) Revoke(ctx context.Context, userID, tokenValue string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true
		WHERE user_id = $1 AND token = $2 AND revoked = false
	`, userID, tokenValue)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth.ErrTokenNotFound
	}
	return nil
}

// RevokeAll revokes every refresh token the user holds
func (r *TokenRepository) RevokeAll(ctx context.Context, userID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true
		WHERE user_id = $1 AND revoked = false
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens past their expiry
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected(), nil
}
