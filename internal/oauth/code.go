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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/pkce"
)

// CodeTTL is the authorization code lifetime mandated by the flow.
const CodeTTL = 60 * time.Second

// codeBytes yields 43 URL-safe characters.
const codeBytes = 32

// CodeService issues and redeems single-use authorization codes.
type CodeService struct {
	repo CodeRepository
	log  *slog.Logger
}

// NewCodeService creates the code service.
func NewCodeService(repo CodeRepository, log *slog.Logger) *CodeService {
	return &CodeService{repo: repo, log: log}
}

// CodeRequest carries everything snapshotted into a new code.
type CodeRequest struct {
	ClientID            string
	UserID              string
	OrganizationID      string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// Create persists a fresh code with a 60 second expiry.
func (s *CodeService) Create(ctx context.Context, req CodeRequest) (string, error) {
	raw := make([]byte, codeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	record := &AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		OrganizationID:      req.OrganizationID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		ExpiresAt:           now.Add(CodeTTL),
		CreatedAt:           now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to persist code: %w", err)
	}
	return code, nil
}

// ValidateAndConsume atomically claims the code and checks every binding.
// All failures are reported uniformly as invalid_grant; the distinguishing
// subreason goes to the log only.
func (s *CodeService) ValidateAndConsume(ctx context.Context, code, clientID, redirectURI, verifier string) (*AuthorizationCode, error) {
	record, err := s.repo.Consume(ctx, code)
	if err != nil {
		s.log.Info("code redemption rejected",
			logger.ClientID(clientID),
			slog.String("subreason", "unknown_or_replayed"))
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	}

	subreason := ""
	switch {
	case !time.Now().Before(record.ExpiresAt):
		subreason = "expired"
	case record.ClientID != clientID:
		subreason = "client_mismatch"
	case record.RedirectURI != redirectURI:
		subreason = "redirect_uri_mismatch"
	// The PKCE binding is only checked when the code was issued with a
	// challenge; confidential clients may skip PKCE entirely.
	case record.CodeChallenge != "" && !pkce.Validate(record.CodeChallenge, verifier, record.CodeChallengeMethod):
		subreason = "pkce_failed"
	}
	if subreason != "" {
		s.log.Info("code redemption rejected",
			logger.ClientID(clientID),
			logger.UserID(record.UserID),
			slog.String("subreason", subreason))
		return nil, NewError(ErrInvalidGrant, "invalid authorization code")
	}

	return record, nil
}
