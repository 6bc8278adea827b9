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
	"sort"
	"time"
)

// ConsentStatus is the outcome of a consent check.
type ConsentStatus struct {
	HasConsent      bool
	Granted         []string
	NeedsNewConsent bool
}

// ConsentService decides when the consent step can be skipped and tracks
// incremental grants.
type ConsentService struct {
	repo ConsentRepository
}

// NewConsentService creates the consent service.
func NewConsentService(repo ConsentRepository) *ConsentService {
	return &ConsentService{repo: repo}
}

// ShouldSkip reports whether the consent screen can be bypassed entirely:
// only first-party clients that do not force consent.
func (s *ConsentService) ShouldSkip(client *Client) bool {
	return client.IsFirstParty && !client.RequireConsent
}

// Check compares requested scopes against the user's existing grant.
// Incremental consent: any requested scope outside the grant demands a new
// consent covering the union.
func (s *ConsentService) Check(ctx context.Context, userID, clientID, orgID string, requested []string) (*ConsentStatus, error) {
	record, err := s.repo.Get(ctx, userID, clientID, orgID)
	if err != nil {
		if errors.Is(err, ErrConsentNotFound) {
			return &ConsentStatus{NeedsNewConsent: true}, nil
		}
		return nil, err
	}

	if !ScopeSubset(requested, record.GrantedScopes) {
		return &ConsentStatus{Granted: record.GrantedScopes, NeedsNewConsent: true}, nil
	}
	return &ConsentStatus{HasConsent: true, Granted: record.GrantedScopes}, nil
}

// Save upserts the consent record, merging scopes with any existing grant.
func (s *ConsentService) Save(ctx context.Context, userID, clientID, orgID string, scopes []string) error {
	merged := scopes
	if existing, err := s.repo.Get(ctx, userID, clientID, orgID); err == nil {
		seen := make(map[string]bool, len(existing.GrantedScopes)+len(scopes))
		merged = merged[:0:0]
		for _, sc := range append(existing.GrantedScopes, scopes...) {
			if !seen[sc] {
				seen[sc] = true
				merged = append(merged, sc)
			}
		}
	} else if !errors.Is(err, ErrConsentNotFound) {
		return err
	}
	sort.Strings(merged)

	return s.repo.Upsert(ctx, &ConsentRecord{
		UserID:         userID,
		ClientID:       clientID,
		OrganizationID: orgID,
		GrantedScopes:  merged,
		GrantedAt:      time.Now().UTC(),
	})
}

// Revoke removes the grant.
func (s *ConsentService) Revoke(ctx context.Context, userID, clientID, orgID string) error {
	return s.repo.Delete(ctx, userID, clientID, orgID)
}
