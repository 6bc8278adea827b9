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
	"sort"
	"strings"

	"github.com/authgrid/authgrid/internal/rbac"
)

// ScopeService validates requested scopes against the client allowlist and
// the permissions the user actually holds. Scopes and permissions share
// the canonical "resource:action" form.
type ScopeService struct {
	perms rbac.Repository
}

// NewScopeService creates the scope service.
func NewScopeService(perms rbac.Repository) *ScopeService {
	return &ScopeService{perms: perms}
}

// ParseScopes splits a space-delimited scope parameter, dropping
// duplicates and empty segments. Order is normalized.
func ParseScopes(raw string) []string {
	fields := strings.Fields(raw)
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// JoinScopes renders the wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ValidateAndGrant returns requested ∩ client-allowed ∩ user-held. An
// empty grant surfaces upstream as insufficient_scope. When orgID is
// empty, the user-held filter is skipped: user-scoped tokens carry no
// organization permissions.
func (s *ScopeService) ValidateAndGrant(ctx context.Context, requested, clientAllowed []string, userID, orgID string) ([]string, error) {
	allowed := make(map[string]bool, len(clientAllowed))
	for _, sc := range clientAllowed {
		allowed[sc] = true
	}

	var held map[string]bool
	if orgID != "" {
		perms, err := s.perms.GetUserPermissions(ctx, userID, orgID)
		if err != nil {
			return nil, err
		}
		held = make(map[string]bool, len(perms))
		for _, p := range perms {
			held[p.String()] = true
		}
	}

	granted := make([]string, 0, len(requested))
	for _, sc := range requested {
		if !allowed[sc] {
			continue
		}
		if held != nil && !held[sc] {
			continue
		}
		granted = append(granted, sc)
	}
	sort.Strings(granted)
	return granted, nil
}

// ValidateDownscope succeeds iff requested ⊆ original, returning the
// effective scope set. Used on refresh.
func ValidateDownscope(original, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return original, nil
	}
	orig := make(map[string]bool, len(original))
	for _, sc := range original {
		orig[sc] = true
	}
	for _, sc := range requested {
		if !orig[sc] {
			return nil, NewError(ErrInvalidScope, "requested scope exceeds original grant")
		}
	}
	return requested, nil
}

// ScopeSubset reports whether every element of subset appears in set.
func ScopeSubset(subset, set []string) bool {
	have := make(map[string]bool, len(set))
	for _, sc := range set {
		have[sc] = true
	}
	for _, sc := range subset {
		if !have[sc] {
			return false
		}
	}
	return true
}
