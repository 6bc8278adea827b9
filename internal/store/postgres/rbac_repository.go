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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/authgrid/authgrid/internal/rbac"
)

// RBACRepository implements rbac.Repository
type RBACRepository struct {
	db *DB
}

// NewRBACRepository creates a new RBAC repository
func NewRBACRepository(db *DB) *RBACRepository {
	return &RBACRepository{db: db}
}

// CreateOrganization creates a new organization
func (r *RBACRepository) CreateOrganization(ctx context.Context, org *rbac.Organization) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, slug, created_at)
		VALUES ($1, $2, $3, $4)
	`, org.ID, org.Name, org.Slug, now)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrDuplicateSlug
		}
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	org.CreatedAt = now
	return nil
}

// GetOrganization retrieves an organization by ID
func (r *RBACRepository) GetOrganization(ctx context.Context, id string) (*rbac.Organization, error) {
	var org rbac.Organization
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, slug, created_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rbac.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// ListUserOrganizations lists the organizations a user belongs to
func (r *RBACRepository) ListUserOrganizations(ctx context.Context, userID string) ([]*rbac.Organization, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT o.id, o.name, o.slug, o.created_at
		FROM organizations o
		JOIN memberships m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*rbac.Organization
	for rows.Next() {
		var org rbac.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, &org)
	}
	return orgs, rows.Err()
}

// IsOrgMember reports whether the user belongs to the organization
func (r *RBACRepository) IsOrgMember(ctx context.Context, userID, orgID string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM memberships WHERE user_id = $1 AND organization_id = $2
		)
	`, userID, orgID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// GetUserOrgRole returns the user's role within the organization
func (r *RBACRepository) GetUserOrgRole(ctx context.Context, userID, orgID string) (string, error) {
	var role string
	err := r.db.pool.QueryRow(ctx, `
		SELECT role FROM memberships
		WHERE user_id = $1 AND organization_id = $2
	`, userID, orgID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", rbac.ErrNotMember
		}
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return role, nil
}

// ListOrgMembers lists the organization's memberships
func (r *RBACRepository) ListOrgMembers(ctx context.Context, orgID string) ([]*rbac.Membership, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT user_id, organization_id, role, joined_at
		FROM memberships
		WHERE organization_id = $1
		ORDER BY joined_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*rbac.Membership
	for rows.Next() {
		var m rbac.Membership
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// AddMember adds a user to an organization. Re-adding an existing member
// is a no-op; the original role and join time stand.
func (r *RBACRepository) AddMember(ctx context.Context, m *rbac.Membership) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO memberships (organization_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`, m.OrganizationID, m.UserID, m.Role, now)
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	m.JoinedAt = now
	return nil
}

// RemoveMember removes a user from an organization
func (r *RBACRepository) RemoveMember(ctx context.Context, userID, orgID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM memberships
		WHERE user_id = $1 AND organization_id = $2
	`, userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrNotMember
	}
	return nil
}

// UpdateMemberRole changes a member's role
func (r *RBACRepository) UpdateMemberRole(ctx context.Context, userID, orgID, role string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE memberships SET role = $3
		WHERE user_id = $1 AND organization_id = $2
	`, userID, orgID, role)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrNotMember
	}
	return nil
}

// CreateGroup creates a group within an organization
func (r *RBACRepository) CreateGroup(ctx context.Context, g *rbac.Group) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO groups (id, organization_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, g.ID, g.OrganizationID, g.Name, g.Description, now)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrDuplicateGroupName
		}
		return fmt.Errorf("failed to insert group: %w", err)
	}
	g.CreatedAt = now
	return nil
}

// GetGroup retrieves a group by ID
func (r *RBACRepository) GetGroup(ctx context.Context, id string) (*rbac.Group, error) {
	var g rbac.Group
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, description, created_at
		FROM groups
		WHERE id = $1
	`, id).Scan(&g.ID, &g.OrganizationID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rbac.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

// ListGroups lists the organization's groups
func (r *RBACRepository) ListGroups(ctx context.Context, orgID string) ([]*rbac.Group, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, organization_id, name, description, created_at
		FROM groups
		WHERE organization_id = $1
		ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*rbac.Group
	for rows.Next() {
		var g rbac.Group
		if err := rows.Scan(&g.ID, &g.OrganizationID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// UpdateGroup updates a group's name and description
func (r *RBACRepository) UpdateGroup(ctx context.Context, g *rbac.Group) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE groups SET name = $2, description = $3
		WHERE id = $1
	`, g.ID, g.Name, g.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrDuplicateGroupName
		}
		return fmt.Errorf("failed to update group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrGroupNotFound
	}
	return nil
}

// DeleteGroup deletes a group; grants and memberships cascade
func (r *RBACRepository) DeleteGroup(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrGroupNotFound
	}
	return nil
}

// AddUserToGroup adds a user to a group
func (r *RBACRepository) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
	`, groupID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrGroupMemberExists
		}
		return fmt.Errorf("failed to insert group member: %w", err)
	}
	return nil
}

// RemoveUserFromGroup removes a user from a group
func (r *RBACRepository) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM group_members
		WHERE group_id = $1 AND user_id = $2
	`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete group member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrNotGroupMember
	}
	return nil
}

// ListGroupMembers lists the user IDs in a group
func (r *RBACRepository) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT user_id FROM group_members
		WHERE group_id = $1
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// CreatePermission registers a (resource, action) permission
func (r *RBACRepository) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO permissions (id, resource, action, description)
		VALUES ($1, $2, $3, $4)
	`, p.ID, p.Resource, p.Action, p.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrDuplicatePermission
		}
		return fmt.Errorf("failed to insert permission: %w", err)
	}
	return nil
}

// ListPermissions lists every registered permission
func (r *RBACRepository) ListPermissions(ctx context.Context) ([]*rbac.Permission, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, resource, action, description
		FROM permissions
		ORDER BY resource, action
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

// GrantPermissionToGroup grants a permission to a group
func (r *RBACRepository) GrantPermissionToGroup(ctx context.Context, groupID, permissionID, grantedBy string) error {
	var by any
	if grantedBy != "" {
		by = grantedBy
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO group_permissions (group_id, permission_id, granted_by)
		VALUES ($1, $2, $3)
	`, groupID, permissionID, by)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrAlreadyGranted
		}
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermissionFromGroup removes a grant
func (r *RBACRepository) RevokePermissionFromGroup(ctx context.Context, groupID, permissionID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM group_permissions
		WHERE group_id = $1 AND permission_id = $2
	`, groupID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrPermissionNotFound
	}
	return nil
}

// ListGroupPermissions lists the permissions granted to a group
func (r *RBACRepository) ListGroupPermissions(ctx context.Context, groupID string) ([]*rbac.Permission, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT p.id, p.resource, p.action, p.description
		FROM permissions p
		JOIN group_permissions gp ON gp.permission_id = p.id
		WHERE gp.group_id = $1
		ORDER BY p.resource, p.action
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group permissions: %w", err)
	}
	defer rows.Close()

	var perms []*rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

// GetUserPermissions resolves the user's effective permission set within
// an organization, annotated with the conveying group.
func (r *RBACRepository) GetUserPermissions(ctx context.Context, userID, orgID string) ([]*rbac.UserPermission, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT p.resource, p.action, p.description, g.name, g.id, gp.granted_at
		FROM permissions p
		JOIN group_permissions gp ON gp.permission_id = p.id
		JOIN groups g ON g.id = gp.group_id
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1 AND g.organization_id = $2
		ORDER BY p.resource, p.action, g.name
	`, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}
	defer rows.Close()

	var perms []*rbac.UserPermission
	for rows.Next() {
		var p rbac.UserPermission
		if err := rows.Scan(&p.Resource, &p.Action, &p.Description, &p.ViaGroupName, &p.ViaGroupID, &p.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

// UserHasPermission checks a single permission through group membership
func (r *RBACRepository) UserHasPermission(ctx context.Context, userID, orgID, resource, action string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM group_members gm
			JOIN groups g ON g.id = gm.group_id
			JOIN group_permissions gp ON gp.group_id = g.id
			JOIN permissions p ON p.id = gp.permission_id
			WHERE gm.user_id = $1 AND g.organization_id = $2
			  AND p.resource = $3 AND p.action = $4
		)
	`, userID, orgID, resource, action).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return exists, nil
}
