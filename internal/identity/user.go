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

// Package identity manages user accounts: registration, email
// verification, password reset, and the two-step login with optional TOTP
// second factor.
package identity

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotVerified    = errors.New("email address not verified")
	ErrUserInactive       = errors.New("user account is deactivated")
	ErrInvalidCode        = errors.New("invalid or expired code")
	ErrTooManyAttempts    = errors.New("too many failed attempts, try again later")
	ErrTOTPNotEnabled     = errors.New("totp is not enabled for this user")
	ErrTOTPAlreadyEnabled = errors.New("totp is already enabled for this user")
	ErrNoPendingSetup     = errors.New("no pending totp setup")
)

// User is an account identity. Emails are lowercased on write and lookup.
// The password hash never appears in logs or API responses.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsVerified   bool
	IsActive     bool
	CreatedAt    time.Time
	VerifiedAt   *time.Time
	LastLoginAt  *time.Time
}

// UserRepository persists users. CreateUser runs inTx inside the insert's
// database transaction: if inTx fails the insert is rolled back, so a
// registration can never commit a user whose verification state was lost.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User, inTx func(ctx context.Context) error) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	VerifyEmail(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetLastLogin(ctx context.Context, userID string, at time.Time) error
}
