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

package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authgrid/authgrid/internal/cache"
	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/token"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	OrgID        string `json:"org_id,omitempty"`
}

// TokenService mints, rotates, and revokes the JWT pairs. Refresh JWTs are
// additionally persisted so rotation and revocation serialize through the
// store rather than in-process state.
type TokenService struct {
	signer     *token.Signer
	repo       TokenRepository
	cache      *cache.Cache
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        *slog.Logger
}

// NewTokenService creates the token service. Zero TTLs take the defaults.
func NewTokenService(signer *token.Signer, repo TokenRepository, c *cache.Cache, accessTTL, refreshTTL time.Duration, log *slog.Logger) *TokenService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenService{
		signer:     signer,
		repo:       repo,
		cache:      c,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		log:        log,
	}
}

func denylistKey(jti string) string { return "blacklist:jti:" + jti }

// Issue mints an access+refresh pair with fresh jtis and persists the
// refresh record.
func (s *TokenService) Issue(ctx context.Context, userID, orgID, scope, clientID string) (*TokenResponse, error) {
	accessClaims := token.Claims{
		Type:     token.TypeAccess,
		Scope:    scope,
		ClientID: clientID,
		AZP:      clientID,
		OrgID:    orgID,
	}
	accessClaims.Subject = userID
	accessClaims.ID = uuid.New().String()

	access, err := s.signer.Create(accessClaims, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}

	refreshClaims := token.Claims{
		Type:     token.TypeRefresh,
		Scope:    scope,
		ClientID: clientID,
		AZP:      clientID,
		OrgID:    orgID,
	}
	refreshClaims.Subject = userID
	refreshClaims.ID = uuid.New().String()

	refresh, err := s.signer.Create(refreshClaims, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint refresh token: %w", err)
	}

	if err := s.repo.Save(ctx, &RefreshTokenRecord{
		UserID:    userID,
		Token:     refresh,
		JTI:       refreshClaims.ID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: time.Now().UTC().Add(s.refreshTTL),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		Scope:        scope,
		OrgID:        orgID,
	}, nil
}

// Refresh implements token rotation: the presented refresh token is
// revoked and a fresh pair minted, optionally downscoped. Every validation
// failure is invalid_grant.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, clientID, requestedScope string) (*TokenResponse, error) {
	claims, err := s.signer.Decode(refreshToken)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}
	if claims.Type != token.TypeRefresh {
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}
	if claims.ClientID != "" && clientID != "" && claims.ClientID != clientID {
		return nil, NewError(ErrInvalidGrant, "invalid refresh token")
	}

	valid, err := s.repo.Validate(ctx, claims.Subject, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh validation failed: %w", err)
	}
	if !valid {
		return nil, NewError(ErrInvalidGrant, "refresh token revoked or expired")
	}

	scope, err := ValidateDownscope(ParseScopes(claims.Scope), ParseScopes(requestedScope))
	if err != nil {
		return nil, err
	}

	// Claiming the old token is the serialization point: of N concurrent
	// rotations of the same token, one revocation succeeds and the rest
	// find it already claimed.
	if err := s.repo.Revoke(ctx, claims.Subject, refreshToken); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, NewError(ErrInvalidGrant, "refresh token revoked or expired")
		}
		return nil, fmt.Errorf("failed to revoke rotated token: %w", err)
	}

	return s.Issue(ctx, claims.Subject, claims.OrgID, JoinScopes(scope), claims.ClientID)
}

// Revoke implements RFC 7009 semantics: the error cases are intentionally
// indistinguishable from success. Refresh tokens are revoked in the store;
// access tokens are denylisted by jti for their remaining life.
func (s *TokenService) Revoke(ctx context.Context, tokenValue, clientID string) error {
	claims, err := s.signer.Decode(tokenValue)
	if err != nil {
		// Unknown or expired token: nothing to do.
		return nil
	}
	if claims.ClientID != "" && clientID != "" && claims.ClientID != clientID {
		// A client may only revoke its own tokens; stay silent about it.
		return nil
	}

	switch claims.Type {
	case token.TypeRefresh:
		if err := s.repo.Revoke(ctx, claims.Subject, tokenValue); err != nil &&
			!errors.Is(err, ErrTokenNotFound) {
			s.log.Warn("refresh revocation failed", logger.UserID(claims.Subject), logger.Error(err))
		}
	case token.TypeAccess:
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining <= 0 {
			return nil
		}
		if err := s.cache.Set(ctx, denylistKey(claims.ID), "1", remaining); err != nil {
			s.log.Warn("access denylist write failed", logger.UserID(claims.Subject), logger.Error(err))
		}
	}
	return nil
}

// IsDenylisted reports whether an access token's jti has been revoked.
func (s *TokenService) IsDenylisted(ctx context.Context, jti string) bool {
	_, err := s.cache.Get(ctx, denylistKey(jti))
	return err == nil
}

// MintUserTokens implements the login-side minter: first-party tokens
// carry no client binding and no scope narrowing.
func (s *TokenService) MintUserTokens(ctx context.Context, userID, orgID string) (string, string, int64, error) {
	resp, err := s.Issue(ctx, userID, orgID, "", "")
	if err != nil {
		return "", "", 0, err
	}
	return resp.AccessToken, resp.RefreshToken, resp.ExpiresIn, nil
}

// RevokeAll revokes every refresh token the user holds.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	return s.repo.RevokeAll(ctx, userID)
}
