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

// Package rbac holds the role-based access control model: organizations,
// memberships, groups, and the permissions granted to groups. Users obtain
// permissions only through group membership within an organization.
package rbac

import (
	"context"
	"errors"
	"time"
)

// Organization roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRole reports whether role is one of the defined organization roles.
func ValidRole(role string) bool {
	return role == RoleOwner || role == RoleAdmin || role == RoleMember
}

// Domain errors
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrDuplicateSlug        = errors.New("organization slug already exists")
	ErrNotMember            = errors.New("user is not a member of the organization")
	ErrLastOwner            = errors.New("organization must retain at least one owner")
	ErrInvalidRole          = errors.New("invalid organization role")
	ErrGroupNotFound        = errors.New("group not found")
	ErrDuplicateGroupName   = errors.New("group name already exists in organization")
	ErrNotGroupMember       = errors.New("user is not a member of the group")
	ErrGroupMemberExists    = errors.New("user is already a member of the group")
	ErrPermissionNotFound   = errors.New("permission not found")
	ErrDuplicatePermission  = errors.New("permission already exists")
	ErrAlreadyGranted       = errors.New("permission already granted to group")
)

// Organization is the tenancy boundary for groups and permissions.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// Membership links a user to an organization with a role.
type Membership struct {
	UserID         string
	OrganizationID string
	Role           string
	JoinedAt       time.Time
}

// Group is a named set of users within one organization.
type Group struct {
	ID             string
	OrganizationID string
	Name           string
	Description    string
	CreatedAt      time.Time
}

// Permission is a (resource, action) pair, unique as a pair.
type Permission struct {
	ID          string
	Resource    string
	Action      string
	Description string
}

// String returns the canonical "resource:action" form shared with OAuth
// scopes.
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// UserPermission is one row of a user's effective permission set, annotated
// with the group that conveys it.
type UserPermission struct {
	Resource     string
	Action       string
	ViaGroupName string
	ViaGroupID   string
	GrantedAt    time.Time
	Description  string
}

// String returns the canonical "resource:action" form.
func (p UserPermission) String() string {
	return p.Resource + ":" + p.Action
}

// Repository defines the persistence operations for the RBAC model. Write
// operations run in a single database transaction; uniqueness violations
// surface as the typed errors above.
type Repository interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	ListUserOrganizations(ctx context.Context, userID string) ([]*Organization, error)

	// Memberships
	IsOrgMember(ctx context.Context, userID, orgID string) (bool, error)
	GetUserOrgRole(ctx context.Context, userID, orgID string) (string, error)
	ListOrgMembers(ctx context.Context, orgID string) ([]*Membership, error)
	AddMember(ctx context.Context, m *Membership) error
	RemoveMember(ctx context.Context, userID, orgID string) error
	UpdateMemberRole(ctx context.Context, userID, orgID, role string) error

	// Groups
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context, orgID string) ([]*Group, error)
	UpdateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error
	AddUserToGroup(ctx context.Context, userID, groupID string) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// Permissions
	CreatePermission(ctx context.Context, p *Permission) error
	ListPermissions(ctx context.Context) ([]*Permission, error)
	GrantPermissionToGroup(ctx context.Context, groupID, permissionID, grantedBy string) error
	RevokePermissionFromGroup(ctx context.Context, groupID, permissionID string) error
	ListGroupPermissions(ctx context.Context, groupID string) ([]*Permission, error)

	// Effective permissions
	GetUserPermissions(ctx context.Context, userID, orgID string) ([]*UserPermission, error)
	UserHasPermission(ctx context.Context, userID, orgID, resource, action string) (bool, error)
}
