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

package authz

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/internal/audit"
	"github.com/authgrid/authgrid/internal/cache"
	"github.com/authgrid/authgrid/internal/rbac"
)

// stubRepo implements the subset of rbac.Repository the PDP touches and
// counts database evaluations.
type stubRepo struct {
	rbac.Repository

	mu      sync.Mutex
	members map[string]bool              // userID/orgID
	perms   map[string][]*rbac.UserPermission // userID/orgID
	dbHits  int
}

func key(userID, orgID string) string { return userID + "/" + orgID }

func (r *stubRepo) IsOrgMember(_ context.Context, userID, orgID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbHits++
	return r.members[key(userID, orgID)], nil
}

func (r *stubRepo) UserHasPermission(_ context.Context, userID, orgID, resource, action string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.perms[key(userID, orgID)] {
		if p.Resource == resource && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRepo) GetUserPermissions(_ context.Context, userID, orgID string) ([]*rbac.UserPermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perms[key(userID, orgID)], nil
}

func (r *stubRepo) hits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dbHits
}

// captureAuditor records emitted entries.
type captureAuditor struct {
	mu      sync.Mutex
	entries []*audit.Entry
	intents []audit.Intent
}

func (a *captureAuditor) Log(e *audit.Entry, intent audit.Intent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	a.intents = append(a.intents, intent)
}

func (a *captureAuditor) last() *audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return nil
	}
	return a.entries[len(a.entries)-1]
}

var discard = slog.New(slog.DiscardHandler)

func newFixture(t *testing.T, cfg CacheConfig) (*PDP, *stubRepo, *captureAuditor, *DecisionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &stubRepo{
		members: map[string]bool{"user-1/org-1": true},
		perms: map[string][]*rbac.UserPermission{
			"user-1/org-1": {
				{Resource: "document", Action: "read", ViaGroupName: "readers", ViaGroupID: "g-1"},
				{Resource: "document", Action: "read", ViaGroupName: "editors", ViaGroupID: "g-2"},
				{Resource: "document", Action: "write", ViaGroupName: "editors", ViaGroupID: "g-2"},
			},
		},
	}
	dc := NewDecisionCache(cache.New(client), cfg, discard)
	auditor := &captureAuditor{}
	return NewPDP(repo, dc, auditor, nil), repo, auditor, dc, mr
}

func TestPDP_InvalidPermissionFormat(t *testing.T) {
	pdp, _, _, _, _ := newFixture(t, CacheConfig{})
	_, err := pdp.Authorize(context.Background(), "user-1", "org-1", "documentread", "")
	assert.ErrorIs(t, err, ErrInvalidPermission)
	_, err = pdp.Authorize(context.Background(), "user-1", "org-1", "document:", "")
	assert.ErrorIs(t, err, ErrInvalidPermission)
}

func TestPDP_DeniedNotMember(t *testing.T) {
	pdp, _, auditor, _, _ := newFixture(t, CacheConfig{L1Enabled: true, L2Enabled: true})

	d, err := pdp.Authorize(context.Background(), "stranger", "org-1", "document:read", "")
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, "Not a member of the organization", d.Reason)

	entry := auditor.last()
	require.NotNil(t, entry)
	assert.False(t, entry.Authorized)
	assert.Equal(t, "document", entry.ResourceType)
	assert.Equal(t, "read", entry.Action)
}

func TestPDP_DeniedNoPermission(t *testing.T) {
	pdp, _, _, _, _ := newFixture(t, CacheConfig{L1Enabled: true, L2Enabled: true})

	d, err := pdp.Authorize(context.Background(), "user-1", "org-1", "billing:manage", "")
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Contains(t, d.Reason, "billing:manage")
}

// TestPurpose: Validates the full decision ladder L2 -> L1 -> database.
// Scope: Unit Test
// Expected: First authorized decision misses, populates L2, and subsequent
// checks for any held permission hit L2 without touching the database.
func TestPDP_GrantedPopulatesL2(t *testing.T) {
	pdp, repo, _, _, _ := newFixture(t, CacheConfig{L1Enabled: true, L2Enabled: true})
	ctx := context.Background()

	d, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "doc-9")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.Equal(t, audit.SourceCacheMiss, d.CacheSource)
	assert.Equal(t, "User has permission via group membership", d.Reason)
	assert.ElementsMatch(t, []string{"readers", "editors"}, d.MatchedGroups)

	hitsAfterFirst := repo.hits()

	// Different permission, same user: served from the L2 set.
	d, err = pdp.Authorize(ctx, "user-1", "org-1", "document:write", "")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.Equal(t, audit.SourceL2Hit, d.CacheSource)

	// Denials also resolve from L2 membership.
	d, err = pdp.Authorize(ctx, "user-1", "org-1", "billing:manage", "")
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, audit.SourceL2Hit, d.CacheSource)

	assert.Equal(t, hitsAfterFirst, repo.hits())
}

func TestPDP_L1HitWhenL2Disabled(t *testing.T) {
	pdp, repo, _, _, _ := newFixture(t, CacheConfig{L1Enabled: true, L2Enabled: false})
	ctx := context.Background()

	d, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
	require.NoError(t, err)
	assert.Equal(t, audit.SourceCacheMiss, d.CacheSource)
	hits := repo.hits()

	d, err = pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.Equal(t, audit.SourceL1Hit, d.CacheSource)
	assert.ElementsMatch(t, []string{"readers", "editors"}, d.MatchedGroups)
	assert.Equal(t, hits, repo.hits())
}

func TestPDP_CacheDisabled(t *testing.T) {
	pdp, repo, _, _, _ := newFixture(t, CacheConfig{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
		require.NoError(t, err)
		assert.True(t, d.Authorized)
		assert.Equal(t, audit.SourceCacheDisabled, d.CacheSource)
	}
	// Both calls hit the database.
	assert.Equal(t, 2, repo.hits())
}

// TestPurpose: Validates invalidation wiring between RBAC mutations and
// the decision cache.
// Scope: Unit Test
// Expected: After InvalidateUser, the next check re-evaluates against the
// database.
func TestPDP_Invalidation(t *testing.T) {
	pdp, repo, _, dc, _ := newFixture(t, CacheConfig{L1Enabled: true, L2Enabled: true})
	ctx := context.Background()

	_, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
	require.NoError(t, err)

	// Revoke everything behind the cache's back, then invalidate.
	repo.mu.Lock()
	repo.perms["user-1/org-1"] = nil
	repo.mu.Unlock()

	d, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
	require.NoError(t, err)
	assert.True(t, d.Authorized, "stale cached decision expected before invalidation")

	dc.InvalidateUser(ctx, "user-1", "org-1")

	d, err = pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
	require.NoError(t, err)
	assert.False(t, d.Authorized)
}

func TestPDP_CacheExpiry(t *testing.T) {
	pdp, _, _, _, mr := newFixture(t, CacheConfig{L1Enabled: true, L2Enabled: true, TTL: 300 * time.Second})
	ctx := context.Background()

	_, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
	require.NoError(t, err)

	mr.FastForward(301 * time.Second)

	d, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "")
	require.NoError(t, err)
	assert.Equal(t, audit.SourceCacheMiss, d.CacheSource)
}

// Cache unavailability must degrade to the database path, not fail requests.
func TestPDP_CacheFailureFallsThrough(t *testing.T) {
	pdp, _, _, _, mr := newFixture(t, CacheConfig{L1Enabled: true, L2Enabled: true})
	mr.Close()

	d, err := pdp.Authorize(context.Background(), "user-1", "org-1", "document:read", "")
	require.NoError(t, err)
	assert.True(t, d.Authorized)
}

func TestPDP_AuditCarriesIntentAndMeta(t *testing.T) {
	pdp, _, auditor, _, _ := newFixture(t, CacheConfig{})

	intent := audit.DefaultIntent()
	intent.Operation = audit.OpAutomation
	ctx := audit.WithIntent(context.Background(), intent)
	ctx = audit.WithMeta(ctx, audit.Meta{IP: "10.0.0.1", RequestID: "req-77"})

	_, err := pdp.Authorize(ctx, "user-1", "org-1", "document:read", "doc-3")
	require.NoError(t, err)

	entry := auditor.last()
	require.NotNil(t, entry)
	assert.Equal(t, "10.0.0.1", entry.IP)
	assert.Equal(t, "req-77", entry.RequestID)
	assert.Equal(t, "doc-3", entry.ResourceID)
	assert.Equal(t, audit.OpAutomation, auditor.intents[len(auditor.intents)-1].Operation)
}

func TestPDP_ListUserPermissions(t *testing.T) {
	pdp, _, _, _, _ := newFixture(t, CacheConfig{})
	ctx := context.Background()

	perms, err := pdp.ListUserPermissions(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Len(t, perms, 3)

	_, err = pdp.ListUserPermissions(ctx, "stranger", "org-1")
	assert.ErrorIs(t, err, rbac.ErrNotMember)
}
