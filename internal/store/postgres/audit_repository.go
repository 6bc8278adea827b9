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

	"github.com/authgrid/authgrid/internal/audit"
)

// AuditRepository implements audit.Writer
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// WriteBatch appends the entries in order within one transaction. A batch
// either lands whole or not at all, which keeps the hash chain free of
// partial-write gaps.
func (r *AuditRepository) WriteBatch(ctx context.Context, entries []*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		err := tx.QueryRow(ctx, `
			INSERT INTO audit_log (
				ts, user_id, organization_id, permission, resource_type, action,
				resource_id, authorized, reason, matched_groups, cache_source,
				ip, user_agent, request_id, session_id, log_level,
				op_intent, session_mode, purpose, batch_id, is_test, criticality,
				hash, prev_hash
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
			)
			RETURNING id
		`,
			e.Timestamp, e.UserID, e.OrganizationID, e.Permission, e.ResourceType, e.Action,
			e.ResourceID, e.Authorized, e.Reason, e.MatchedGroups, e.CacheSource,
			e.IP, e.UserAgent, e.RequestID, e.SessionID, e.LogLevel,
			e.Intent.Operation, e.Intent.SessionMode, e.Intent.Purpose, e.Intent.BatchID,
			e.Intent.IsTest, e.Intent.Criticality,
			e.Hash, e.PrevHash,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}
	return nil
}

// LastHash returns the hash of the newest persisted entry, or "" for an
// empty log.
func (r *AuditRepository) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := r.db.pool.QueryRow(ctx, `
		SELECT hash FROM audit_log ORDER BY id DESC LIMIT 1
	`).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read last audit hash: %w", err)
	}
	return hash, nil
}

// ListAll returns every entry in insertion order for chain verification.
func (r *AuditRepository) ListAll(ctx context.Context) ([]*audit.Entry, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, ts, user_id, organization_id, permission, resource_type, action,
			resource_id, authorized, reason, matched_groups, cache_source,
			ip, user_agent, request_id, session_id, log_level,
			op_intent, session_mode, purpose, batch_id, is_test, criticality,
			hash, prev_hash
		FROM audit_log
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.UserID, &e.OrganizationID, &e.Permission, &e.ResourceType, &e.Action,
			&e.ResourceID, &e.Authorized, &e.Reason, &e.MatchedGroups, &e.CacheSource,
			&e.IP, &e.UserAgent, &e.RequestID, &e.SessionID, &e.LogLevel,
			&e.Intent.Operation, &e.Intent.SessionMode, &e.Intent.Purpose, &e.Intent.BatchID,
			&e.Intent.IsTest, &e.Intent.Criticality,
			&e.Hash, &e.PrevHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
