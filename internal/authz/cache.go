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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/authgrid/authgrid/internal/cache"
)

// DefaultCacheTTL bounds how stale a cached decision can be. Invalidation
// is best-effort, so the TTL is the hard ceiling on staleness.
const DefaultCacheTTL = 300 * time.Second

// CacheConfig toggles the two cache tiers independently. A disabled tier
// behaves as if every lookup missed.
type CacheConfig struct {
	L1Enabled bool
	L2Enabled bool
	TTL       time.Duration
}

// DecisionCache is the two-tier authorization cache. L1 stores individual
// decisions, L2 the full permission set per (user, org). All operations are
// best-effort: read failures fall through to the database path, write
// failures are logged and swallowed.
type DecisionCache struct {
	c   *cache.Cache
	cfg CacheConfig
	log *slog.Logger
}

// NewDecisionCache wraps the shared cache with the decision key scheme.
func NewDecisionCache(c *cache.Cache, cfg CacheConfig, log *slog.Logger) *DecisionCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	return &DecisionCache{c: c, cfg: cfg, log: log}
}

func l1Key(userID, orgID, permission string) string {
	return fmt.Sprintf("auth:check:%s:%s:%s", userID, orgID, permission)
}

func l2Key(userID, orgID string) string {
	return fmt.Sprintf("auth:perms:%s:%s", userID, orgID)
}

// GetPermissionSet returns the cached L2 permission set, reporting whether
// the key was present.
func (dc *DecisionCache) GetPermissionSet(ctx context.Context, userID, orgID string) (map[string]struct{}, bool) {
	if dc == nil || !dc.cfg.L2Enabled {
		return nil, false
	}
	raw, err := dc.c.Get(ctx, l2Key(userID, orgID))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			dc.log.Warn("l2 cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal([]byte(raw), &perms); err != nil {
		dc.log.Warn("l2 cache entry corrupt, ignoring", slog.String("error", err.Error()))
		return nil, false
	}
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set, true
}

// SetPermissionSet writes the L2 permission set.
func (dc *DecisionCache) SetPermissionSet(ctx context.Context, userID, orgID string, perms []string) {
	if dc == nil || !dc.cfg.L2Enabled {
		return
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	if err := dc.c.Set(ctx, l2Key(userID, orgID), string(raw), dc.cfg.TTL); err != nil {
		dc.log.Warn("l2 cache write failed", slog.String("error", err.Error()))
	}
}

// GetDecision returns a cached L1 decision.
func (dc *DecisionCache) GetDecision(ctx context.Context, userID, orgID, permission string) (*Decision, bool) {
	if dc == nil || !dc.cfg.L1Enabled {
		return nil, false
	}
	raw, err := dc.c.Get(ctx, l1Key(userID, orgID, permission))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			dc.log.Warn("l1 cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		dc.log.Warn("l1 cache entry corrupt, ignoring", slog.String("error", err.Error()))
		return nil, false
	}
	return &d, true
}

// SetDecision writes an L1 decision.
func (dc *DecisionCache) SetDecision(ctx context.Context, userID, orgID, permission string, d *Decision) {
	if dc == nil || !dc.cfg.L1Enabled {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := dc.c.Set(ctx, l1Key(userID, orgID, permission), string(raw), dc.cfg.TTL); err != nil {
		dc.log.Warn("l1 cache write failed", slog.String("error", err.Error()))
	}
}

// InvalidateUser evicts all cached decisions and the permission set for a
// user within an organization. It implements rbac.Invalidator; failures
// are logged and swallowed, never surfaced.
func (dc *DecisionCache) InvalidateUser(ctx context.Context, userID, orgID string) {
	if dc == nil {
		return
	}
	if _, err := dc.c.DeleteMatching(ctx, l1Key(userID, orgID, "*")); err != nil {
		dc.log.Warn("l1 cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
	if err := dc.c.Delete(ctx, l2Key(userID, orgID)); err != nil {
		dc.log.Warn("l2 cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}
