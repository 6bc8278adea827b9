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
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authgrid/authgrid/internal/oauth"
)

// CodeRepository implements oauth.CodeRepository
type CodeRepository struct {
	db *DB
}

// NewCodeRepository creates a new authorization code repository
func NewCodeRepository(db *DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Create persists an authorization code
func (r *CodeRepository) Create(ctx context.Context, code *oauth.AuthorizationCode) error {
	var orgID any
	if code.OrganizationID != "" {
		orgID = code.OrganizationID
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO authorization_codes (
			code, client_id, user_id, organization_id, redirect_uri, scopes,
			code_challenge, code_challenge_method, nonce, expires_at, consumed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		code.Code, code.ClientID, code.UserID, orgID, code.RedirectURI, code.Scopes,
		code.CodeChallenge, code.CodeChallengeMethod, code.Nonce,
		code.ExpiresAt, code.Consumed, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}
	return nil
}

// Consume claims the code in a single statement. The conditional UPDATE is
// the replay guard: two concurrent redemptions race on the consumed flag
// and only one gets the row back.
func (r *CodeRepository) Consume(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	var record oauth.AuthorizationCode
	var orgID sql.NullString
	err := r.db.pool.QueryRow(ctx, `
		UPDATE authorization_codes SET consumed = true
		WHERE code = $1 AND consumed = false
		RETURNING code, client_id, user_id, organization_id, redirect_uri, scopes,
			code_challenge, code_challenge_method, nonce, expires_at, consumed, created_at
	`, code).Scan(
		&record.Code, &record.ClientID, &record.UserID, &orgID, &record.RedirectURI, &record.Scopes,
		&record.CodeChallenge, &record.CodeChallengeMethod, &record.Nonce,
		&record.ExpiresAt, &record.Consumed, &record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if orgID.Valid {
		record.OrganizationID = orgID.String
	}
	return &record, nil
}

// DeleteExpired removes codes past their expiry
func (r *CodeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM authorization_codes WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return result.RowsAffected(), nil
}
