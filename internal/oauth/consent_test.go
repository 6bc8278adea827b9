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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentService_ShouldSkip(t *testing.T) {
	svc := NewConsentService(newMemConsentRepo())

	assert.True(t, svc.ShouldSkip(&Client{IsFirstParty: true}))
	assert.False(t, svc.ShouldSkip(&Client{IsFirstParty: true, RequireConsent: true}))
	assert.False(t, svc.ShouldSkip(&Client{IsFirstParty: false}))
}

// TestPurpose: First authorization for a client requires consent.
// Expected: NeedsNewConsent with no prior grant.
func TestConsentService_CheckNoPriorGrant(t *testing.T) {
	svc := NewConsentService(newMemConsentRepo())

	status, err := svc.Check(context.Background(), "user-1", "web-client", "org-1", []string{"projects:read"})
	require.NoError(t, err)
	assert.True(t, status.NeedsNewConsent)
	assert.False(t, status.HasConsent)
	assert.Empty(t, status.Granted)
}

// TestPurpose: A request covered by the existing grant skips the consent
// screen; any scope beyond it triggers incremental consent.
// Expected: Subset → HasConsent; superset → NeedsNewConsent carrying the
// existing grant.
func TestConsentService_CheckIncrementalConsent(t *testing.T) {
	repo := newMemConsentRepo()
	svc := NewConsentService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "user-1", "web-client", "org-1",
		[]string{"projects:read", "projects:write"}))

	status, err := svc.Check(ctx, "user-1", "web-client", "org-1", []string{"projects:read"})
	require.NoError(t, err)
	assert.True(t, status.HasConsent)
	assert.False(t, status.NeedsNewConsent)

	status, err = svc.Check(ctx, "user-1", "web-client", "org-1",
		[]string{"projects:read", "billing:read"})
	require.NoError(t, err)
	assert.True(t, status.NeedsNewConsent)
	assert.Equal(t, []string{"projects:read", "projects:write"}, status.Granted)
}

// TestPurpose: Saving consent merges with the existing grant instead of
// replacing it.
// Expected: The stored record holds the sorted union of both grants.
func TestConsentService_SaveMergesScopes(t *testing.T) {
	repo := newMemConsentRepo()
	svc := NewConsentService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "user-1", "web-client", "org-1", []string{"projects:read"}))
	require.NoError(t, svc.Save(ctx, "user-1", "web-client", "org-1",
		[]string{"billing:read", "projects:read"}))

	record, err := repo.Get(ctx, "user-1", "web-client", "org-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing:read", "projects:read"}, record.GrantedScopes)
}

// TestPurpose: Consent is scoped per organization.
// Expected: A grant in one organization does not carry to another.
func TestConsentService_PerOrganization(t *testing.T) {
	svc := NewConsentService(newMemConsentRepo())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "user-1", "web-client", "org-1", []string{"projects:read"}))

	status, err := svc.Check(ctx, "user-1", "web-client", "org-2", []string{"projects:read"})
	require.NoError(t, err)
	assert.True(t, status.NeedsNewConsent)
}

func TestConsentService_Revoke(t *testing.T) {
	svc := NewConsentService(newMemConsentRepo())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "user-1", "web-client", "org-1", []string{"projects:read"}))
	require.NoError(t, svc.Revoke(ctx, "user-1", "web-client", "org-1"))

	status, err := svc.Check(ctx, "user-1", "web-client", "org-1", []string{"projects:read"})
	require.NoError(t, err)
	assert.True(t, status.NeedsNewConsent)
}
