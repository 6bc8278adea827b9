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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/authgrid/authgrid/internal/oauth"
)

// ClientRepository implements oauth.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create registers a new OAuth client
func (r *ClientRepository) Create(ctx context.Context, client *oauth.Client) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_clients (
			client_id, client_name, client_type, client_secret_hash,
			redirect_uris, allowed_scopes, require_pkce, require_consent,
			is_first_party, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		client.ClientID, client.ClientName, client.ClientType, client.ClientSecretHash,
		client.RedirectURIs, client.AllowedScopes, client.RequirePKCE, client.RequireConsent,
		client.IsFirstParty, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oauth.ErrDuplicateClient
		}
		return fmt.Errorf("failed to insert client: %w", err)
	}
	client.CreatedAt = now
	return nil
}

// GetByClientID retrieves a client
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*oauth.Client, error) {
	var client oauth.Client
	err := r.db.pool.QueryRow(ctx, `
		SELECT client_id, client_name, client_type, client_secret_hash,
			redirect_uris, allowed_scopes, require_pkce, require_consent,
			is_first_party, created_at
		FROM oauth_clients
		WHERE client_id = $1
	`, clientID).Scan(
		&client.ClientID, &client.ClientName, &client.ClientType, &client.ClientSecretHash,
		&client.RedirectURIs, &client.AllowedScopes, &client.RequirePKCE, &client.RequireConsent,
		&client.IsFirstParty, &client.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, oauth.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

// List returns every registered client
func (r *ClientRepository) List(ctx context.Context) ([]*oauth.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT client_id, client_name, client_type, client_secret_hash,
			redirect_uris, allowed_scopes, require_pkce, require_consent,
			is_first_party, created_at
		FROM oauth_clients
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*oauth.Client
	for rows.Next() {
		var client oauth.Client
		if err := rows.Scan(
			&client.ClientID, &client.ClientName, &client.ClientType, &client.ClientSecretHash,
			&client.RedirectURIs, &client.AllowedScopes, &client.RequirePKCE, &client.RequireConsent,
			&client.IsFirstParty, &client.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, &client)
	}
	return clients, rows.Err()
}

// Delete removes a client registration
func (r *ClientRepository) Delete(ctx context.Context, clientID string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM oauth_clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return oauth.ErrClientNotFound
	}
	return nil
}
