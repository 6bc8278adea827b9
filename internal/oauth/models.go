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

// Package oauth implements the OAuth 2.0 authorization-code flow with
// PKCE: client registry, scopes, consent, authorization codes, and the
// token lifecycle with refresh rotation and revocation.
package oauth

import (
	"context"
	"errors"
	"time"
)

// Client types.
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// Storage errors
var (
	ErrClientNotFound  = errors.New("oauth client not found")
	ErrDuplicateClient = errors.New("oauth client id already exists")
	ErrCodeNotFound    = errors.New("authorization code not found")
	ErrConsentNotFound = errors.New("consent record not found")
	ErrDuplicateJTI    = errors.New("refresh token jti already exists for user")
	ErrTokenNotFound   = errors.New("refresh token not found")
)

// Client is a registered OAuth application. Public clients carry no secret
// and may never authenticate with one.
type Client struct {
	ClientID         string
	ClientName       string
	ClientType       string
	ClientSecretHash string
	RedirectURIs     []string
	AllowedScopes    []string
	RequirePKCE      bool
	RequireConsent   bool
	IsFirstParty     bool
	CreatedAt        time.Time
}

// AuthorizationCode is a single-use grant binding a user approval to a
// client, redirect URI, and PKCE challenge. Immutable after issue except
// for the consumed flag.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	OrganizationID      string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	ExpiresAt           time.Time
	Consumed            bool
	CreatedAt           time.Time
}

// ConsentRecord captures the scopes a user has granted a client, per
// organization. Updates merge scopes rather than replace them.
type ConsentRecord struct {
	UserID         string
	ClientID       string
	OrganizationID string
	GrantedScopes  []string
	GrantedAt      time.Time
}

// RefreshTokenRecord is the persisted side of a refresh JWT. (user_id,
// jti) is unique; revoked is terminal.
type RefreshTokenRecord struct {
	UserID    string
	Token     string
	JTI       string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// ClientRepository persists registered clients.
type ClientRepository interface {
	Create(ctx context.Context, client *Client) error
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
	List(ctx context.Context) ([]*Client, error)
	Delete(ctx context.Context, clientID string) error
}

// CodeRepository persists authorization codes. Consume claims the code
// atomically: it flips consumed from false to true in a single statement
// and returns the row, or ErrCodeNotFound if the code is unknown or was
// already claimed. Expiry and binding checks stay with the caller.
type CodeRepository interface {
	Create(ctx context.Context, code *AuthorizationCode) error
	Consume(ctx context.Context, code string) (*AuthorizationCode, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// ConsentRepository persists consent grants.
type ConsentRepository interface {
	Get(ctx context.Context, userID, clientID, orgID string) (*ConsentRecord, error)
	Upsert(ctx context.Context, record *ConsentRecord) error
	Delete(ctx context.Context, userID, clientID, orgID string) error
}

// TokenRepository persists refresh token records.
type TokenRepository interface {
	Save(ctx context.Context, record *RefreshTokenRecord) error
	// Validate reports whether a non-revoked, unexpired record exists for
	// (userID, token).
	Validate(ctx context.Context, userID, tokenValue string) (bool, error)
	Revoke(ctx context.Context, userID, tokenValue string) error
	RevokeAll(ctx context.Context, userID string) error
}
