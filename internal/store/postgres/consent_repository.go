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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authgrid/authgrid/internal/oauth"
)

// ConsentRepository implements oauth.ConsentRepository
type ConsentRepository struct {
	db *DB
}

// NewConsentRepository creates a new consent repository
func NewConsentRepository(db *DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Get retrieves the consent record for a user/client/organization triple
func (r *ConsentRepository) Get(ctx context.Context, userID, clientID, orgID string) (*oauth.ConsentRecord, error) {
	var record oauth.ConsentRecord
	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, client_id, organization_id, granted_scopes, granted_at
		FROM consents
		WHERE user_id = $1 AND client_id = $2 AND organization_id = $3
	`, userID, clientID, orgID).Scan(
		&record.UserID, &record.ClientID, &record.OrganizationID,
		&record.GrantedScopes, &record.GrantedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrConsentNotFound
		}
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	return &record, nil
}

// Upsert inserts or replaces the consent record
func (r *ConsentRepository) Upsert(ctx context.Context, record *oauth.ConsentRecord) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO consents (user_id, client_id, organization_id, granted_scopes, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, client_id, organization_id)
		DO UPDATE SET granted_scopes = EXCLUDED.granted_scopes, granted_at = EXCLUDED.granted_at
	`, record.UserID, record.ClientID, record.OrganizationID, record.GrantedScopes, record.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert consent: %w", err)
	}
	return nil
}

// Delete removes the consent record
func (r *ConsentRepository) Delete(ctx context.Context, userID, clientID, orgID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM consents
		WHERE user_id = $1 AND client_id = $2 AND organization_id = $3
	`, userID, clientID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete consent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth.ErrConsentNotFound
	}
	return nil
}
