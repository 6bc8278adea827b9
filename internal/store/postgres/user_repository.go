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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authgrid/authgrid/internal/identity"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts the user and runs inTx inside the same transaction.
// If inTx fails the insert is rolled back.
func (r *UserRepository) CreateUser(ctx context.Context, user *identity.User, inTx func(ctx context.Context) error) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, is_verified, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.PasswordHash, user.IsVerified, user.IsActive, now)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	user.CreatedAt = now

	if inTx != nil {
		if err := inTx(ctx); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit user insert: %w", err)
	}
	return nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.getOne(ctx, `
		SELECT id, email, password_hash, is_verified, is_active, created_at, verified_at, last_login_at
		FROM users
		WHERE email = $1
	`, email)
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return r.getOne(ctx, `
		SELECT id, email, password_hash, is_verified, is_active, created_at, verified_at, last_login_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *UserRepository) getOne(ctx context.Context, query, arg string) (*identity.User, error) {
	var user identity.User
	var verifiedAt, lastLoginAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsVerified, &user.IsActive,
		&user.CreatedAt, &verifiedAt, &lastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if verifiedAt.Valid {
		user.VerifiedAt = &verifiedAt.Time
	}
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	return &user, nil
}

// VerifyEmail marks the user's email as verified
func (r *UserRepository) VerifyEmail(ctx context.Context, userID string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET is_verified = true, verified_at = $2
		WHERE id = $1
	`, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces the user's password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2
		WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// SetLastLogin records the time of a successful login
func (r *UserRepository) SetLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE users SET last_login_at = $2
		WHERE id = $1
	`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to set last login: %w", err)
	}
	return nil
}
