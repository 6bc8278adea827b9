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

// Package authz is the policy decision point. It answers "may this user
// perform this action in this organization", backed by the RBAC store with
// a two-tier decision cache, and emits every decision to the audit trail.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/authgrid/authgrid/internal/audit"
	"github.com/authgrid/authgrid/internal/rbac"
)

// Metric result labels.
const (
	ResultGranted            = "granted"
	ResultDeniedNotMember    = "denied_not_member"
	ResultDeniedNoPermission = "denied_no_permission"
)

// ErrInvalidPermission is returned for permissions not in
// "resource:action" form.
var ErrInvalidPermission = errors.New("authz: permission must be resource:action")

// Decision is the PDP's answer.
type Decision struct {
	Authorized    bool     `json:"authorized"`
	Reason        string   `json:"reason"`
	MatchedGroups []string `json:"matched_groups,omitempty"`
	CacheSource   string   `json:"-"`
}

// Auditor receives every decision. Satisfied by audit.Pipeline.
type Auditor interface {
	Log(entry *audit.Entry, intent audit.Intent)
}

// DecisionRecorder records decision metrics. Satisfied by
// metrics.AuthzMetrics.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, resource, action, result, cacheSource string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(context.Context, string, string, string, string, time.Duration) {}

// PDP is the policy decision point.
type PDP struct {
	repo    rbac.Repository
	cache   *DecisionCache
	auditor Auditor
	metrics DecisionRecorder
}

// NewPDP creates the decision point. cache and auditor may be nil; metrics
// may be nil.
func NewPDP(repo rbac.Repository, cache *DecisionCache, auditor Auditor, metrics DecisionRecorder) *PDP {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &PDP{repo: repo, cache: cache, auditor: auditor, metrics: metrics}
}

// Authorize decides whether userID may exercise permission
// ("resource:action") within orgID. resourceID is recorded for audit only
// and does not affect the decision.
func (p *PDP) Authorize(ctx context.Context, userID, orgID, permission, resourceID string) (*Decision, error) {
	start := time.Now()

	resource, action, ok := strings.Cut(permission, ":")
	if !ok || resource == "" || action == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, permission)
	}

	decision, err := p.decide(ctx, userID, orgID, permission, resource, action)
	if err != nil {
		return nil, err
	}

	result := ResultGranted
	if !decision.Authorized {
		result = ResultDeniedNoPermission
		if decision.Reason == reasonNotMember {
			result = ResultDeniedNotMember
		}
	}
	p.metrics.RecordDecision(ctx, resource, action, result, decision.CacheSource, time.Since(start))

	if p.auditor != nil {
		meta := audit.MetaFromContext(ctx)
		p.auditor.Log(&audit.Entry{
			UserID:         userID,
			OrganizationID: orgID,
			Permission:     permission,
			ResourceType:   resource,
			Action:         action,
			ResourceID:     resourceID,
			Authorized:     decision.Authorized,
			Reason:         decision.Reason,
			MatchedGroups:  decision.MatchedGroups,
			CacheSource:    decision.CacheSource,
			IP:             meta.IP,
			UserAgent:      meta.UserAgent,
			RequestID:      meta.RequestID,
			SessionID:      meta.SessionID,
		}, audit.IntentFromContext(ctx))
	}

	return decision, nil
}

const reasonNotMember = "Not a member of the organization"

func (p *PDP) decide(ctx context.Context, userID, orgID, permission, resource, action string) (*Decision, error) {
	// L2: full permission set for (user, org).
	if set, ok := p.cache.GetPermissionSet(ctx, userID, orgID); ok {
		d := &Decision{CacheSource: audit.SourceL2Hit}
		if _, held := set[permission]; held {
			d.Authorized = true
			d.Reason = "Permission present in cached permission set"
		} else {
			d.Reason = fmt.Sprintf("No permission '%s' granted", permission)
		}
		return d, nil
	}

	// L1: prior decision for this exact permission.
	if d, ok := p.cache.GetDecision(ctx, userID, orgID, permission); ok {
		d.CacheSource = audit.SourceL1Hit
		return d, nil
	}

	source := audit.SourceCacheMiss
	if p.cache == nil || (!p.cache.cfg.L1Enabled && !p.cache.cfg.L2Enabled) {
		source = audit.SourceCacheDisabled
	}

	decision, err := p.evaluate(ctx, userID, orgID, permission, resource, action)
	if err != nil {
		return nil, err
	}
	decision.CacheSource = source

	p.cache.SetDecision(ctx, userID, orgID, permission, decision)

	// L2 population happens only on authorized decisions: a denial proves
	// nothing about the rest of the set. Never fails the request.
	if decision.Authorized {
		p.populatePermissionSet(ctx, userID, orgID)
	}

	return decision, nil
}

func (p *PDP) evaluate(ctx context.Context, userID, orgID, permission, resource, action string) (*Decision, error) {
	member, err := p.repo.IsOrgMember(ctx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("membership check failed: %w", err)
	}
	if !member {
		return &Decision{Reason: reasonNotMember}, nil
	}

	held, err := p.repo.UserHasPermission(ctx, userID, orgID, resource, action)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !held {
		return &Decision{Reason: fmt.Sprintf("No permission '%s' granted", permission)}, nil
	}

	perms, err := p.repo.GetUserPermissions(ctx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("permission listing failed: %w", err)
	}
	var groups []string
	seen := map[string]bool{}
	for _, up := range perms {
		if up.Resource == resource && up.Action == action && !seen[up.ViaGroupName] {
			seen[up.ViaGroupName] = true
			groups = append(groups, up.ViaGroupName)
		}
	}

	return &Decision{
		Authorized:    true,
		Reason:        "User has permission via group membership",
		MatchedGroups: groups,
	}, nil
}

func (p *PDP) populatePermissionSet(ctx context.Context, userID, orgID string) {
	if p.cache == nil || !p.cache.cfg.L2Enabled {
		return
	}
	// Only fill an absent key; a present one already has its own TTL clock.
	if _, ok := p.cache.GetPermissionSet(ctx, userID, orgID); ok {
		return
	}
	perms, err := p.repo.GetUserPermissions(ctx, userID, orgID)
	if err != nil {
		return
	}
	seen := map[string]bool{}
	canonical := make([]string, 0, len(perms))
	for _, up := range perms {
		s := up.String()
		if !seen[s] {
			seen[s] = true
			canonical = append(canonical, s)
		}
	}
	p.cache.SetPermissionSet(ctx, userID, orgID, canonical)
}

// ListUserPermissions exposes the effective permission set for the
// permissions listing endpoint, bypassing the caches.
func (p *PDP) ListUserPermissions(ctx context.Context, userID, orgID string) ([]*rbac.UserPermission, error) {
	member, err := p.repo.IsOrgMember(ctx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("membership check failed: %w", err)
	}
	if !member {
		return nil, rbac.ErrNotMember
	}
	return p.repo.GetUserPermissions(ctx, userID, orgID)
}
