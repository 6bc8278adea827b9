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

package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authgrid/authgrid/internal/authz"
	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/rbac"
)

// CheckPermissionRequest is the decision point's input
type CheckPermissionRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Permission     string `json:"permission"`
	ResourceID     string `json:"resource_id,omitempty"`
}

// CheckPermission evaluates a single authorization decision
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req CheckPermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.OrganizationID == "" || req.Permission == "" {
		respondError(w, http.StatusBadRequest, "user_id, organization_id and permission are required")
		return
	}

	decision, err := h.pdp.Authorize(r.Context(), req.UserID, req.OrganizationID, req.Permission, req.ResourceID)
	if err != nil {
		if errors.Is(err, authz.ErrInvalidPermission) {
			respondError(w, http.StatusBadRequest, "permission must be of the form resource:action")
			return
		}
		h.log.Error("authorization check failed",
			logger.UserID(req.UserID),
			logger.OrgID(req.OrganizationID),
			logger.Permission(req.Permission),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "authorization check failed")
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

// ListUserPermissions returns a user's effective permission set within an
// organization.
func (h *Handler) ListUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		// Accepted for callers using the body field name.
		orgID = r.URL.Query().Get("organization_id")
	}
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	perms, err := h.pdp.ListUserPermissions(r.Context(), userID, orgID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotMember) {
			respondError(w, http.StatusForbidden, "not a member of the organization")
			return
		}
		h.log.Error("permission listing failed", logger.UserID(userID), logger.OrgID(orgID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list permissions")
		return
	}

	canonical := make([]string, 0, len(perms))
	seen := make(map[string]bool, len(perms))
	details := make([]map[string]any, 0, len(perms))
	for _, p := range perms {
		if s := p.String(); !seen[s] {
			seen[s] = true
			canonical = append(canonical, s)
		}
		details = append(details, map[string]any{
			"permission":     p.String(),
			"resource":       p.Resource,
			"action":         p.Action,
			"via_group_name": p.ViaGroupName,
			"via_group_id":   p.ViaGroupID,
			"granted_at":     p.GrantedAt,
			"description":    p.Description,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"org_id":      orgID,
		"permissions": canonical,
		"details":     details,
	})
}
