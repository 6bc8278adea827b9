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

package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Invalidator evicts cached authorization state for a user within an
// organization. Eviction is best-effort: implementations log failures and
// never return them.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID, orgID string)
}

// NopInvalidator satisfies Invalidator when decision caching is disabled.
type NopInvalidator struct{}

func (NopInvalidator) InvalidateUser(context.Context, string, string) {}

// Service provides RBAC management. Every mutation that can change a
// user's effective permissions evicts that user's cached decisions.
type Service struct {
	repo        Repository
	invalidator Invalidator
	log         *slog.Logger
}

// NewService creates the RBAC management service.
func NewService(repo Repository, invalidator Invalidator, log *slog.Logger) *Service {
	if invalidator == nil {
		invalidator = NopInvalidator{}
	}
	return &Service{repo: repo, invalidator: invalidator, log: log}
}

// CreateOrganization creates an organization with the creator as its first
// owner.
func (s *Service) CreateOrganization(ctx context.Context, name, slug, ownerID string) (*Organization, error) {
	org := &Organization{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      slug,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	if err := s.repo.AddMember(ctx, &Membership{
		UserID:         ownerID,
		OrganizationID: org.ID,
		Role:           RoleOwner,
		JoinedAt:       org.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to add owner membership: %w", err)
	}
	return org, nil
}

// GetOrganization returns the organization by id.
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return s.repo.GetOrganization(ctx, id)
}

// ListUserOrganizations returns every organization the user belongs to.
func (s *Service) ListUserOrganizations(ctx context.Context, userID string) ([]*Organization, error) {
	return s.repo.ListUserOrganizations(ctx, userID)
}

// ListMembers returns the organization's memberships.
func (s *Service) ListMembers(ctx context.Context, orgID string) ([]*Membership, error) {
	return s.repo.ListOrgMembers(ctx, orgID)
}

// AddMember adds a user to the organization with the given role.
func (s *Service) AddMember(ctx context.Context, orgID, userID, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := s.repo.AddMember(ctx, &Membership{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		JoinedAt:       time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.invalidator.InvalidateUser(ctx, userID, orgID)
	return nil
}

// RemoveMember removes a user from the organization. Removing the last
// owner fails with ErrLastOwner.
func (s *Service) RemoveMember(ctx context.Context, orgID, userID string) error {
	if err := s.guardLastOwner(ctx, orgID, userID); err != nil {
		return err
	}
	if err := s.repo.RemoveMember(ctx, userID, orgID); err != nil {
		return err
	}
	s.invalidator.InvalidateUser(ctx, userID, orgID)
	return nil
}

// UpdateMemberRole changes a member's role. Demoting the last owner fails
// with ErrLastOwner.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, userID, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if role != RoleOwner {
		if err := s.guardLastOwner(ctx, orgID, userID); err != nil {
			return err
		}
	}
	if err := s.repo.UpdateMemberRole(ctx, userID, orgID, role); err != nil {
		return err
	}
	s.invalidator.InvalidateUser(ctx, userID, orgID)
	return nil
}

// guardLastOwner fails when userID is the organization's only owner.
func (s *Service) guardLastOwner(ctx context.Context, orgID, userID string) error {
	role, err := s.repo.GetUserOrgRole(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if role != RoleOwner {
		return nil
	}
	members, err := s.repo.ListOrgMembers(ctx, orgID)
	if err != nil {
		return err
	}
	owners := 0
	for _, m := range members {
		if m.Role == RoleOwner {
			owners++
		}
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}

// CreateGroup creates a group in the organization. Names are unique per
// organization.
func (s *Service) CreateGroup(ctx context.Context, orgID, name, description string) (*Group, error) {
	g := &Group{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           name,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGroups returns the organization's groups.
func (s *Service) ListGroups(ctx context.Context, orgID string) ([]*Group, error) {
	return s.repo.ListGroups(ctx, orgID)
}

// UpdateGroup renames a group or changes its description.
func (s *Service) UpdateGroup(ctx context.Context, g *Group) error {
	return s.repo.UpdateGroup(ctx, g)
}

// DeleteGroup removes the group, its memberships, and its grants, then
// evicts every former member's cached decisions.
func (s *Service) DeleteGroup(ctx context.Context, groupID string) error {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	members, err := s.repo.ListGroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	for _, userID := range members {
		s.invalidator.InvalidateUser(ctx, userID, g.OrganizationID)
	}
	return nil
}

// AddUserToGroup adds an organization member to a group. Non-members of
// the organization fail with ErrNotMember.
func (s *Service) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	member, err := s.repo.IsOrgMember(ctx, userID, g.OrganizationID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	if err := s.repo.AddUserToGroup(ctx, userID, groupID); err != nil {
		return err
	}
	s.invalidator.InvalidateUser(ctx, userID, g.OrganizationID)
	return nil
}

// RemoveUserFromGroup removes the user and evicts their cached decisions.
func (s *Service) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveUserFromGroup(ctx, userID, groupID); err != nil {
		return err
	}
	s.invalidator.InvalidateUser(ctx, userID, g.OrganizationID)
	return nil
}

// CreatePermission registers a (resource, action) pair.
func (s *Service) CreatePermission(ctx context.Context, resource, action, description string) (*Permission, error) {
	p := &Permission{
		ID:          uuid.New().String(),
		Resource:    resource,
		Action:      action,
		Description: description,
	}
	if err := s.repo.CreatePermission(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPermissions returns every registered permission.
func (s *Service) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GrantPermission grants a permission to a group and evicts every group
// member's cached decisions.
func (s *Service) GrantPermission(ctx context.Context, groupID, permissionID, grantedBy string) error {
	if err := s.repo.GrantPermissionToGroup(ctx, groupID, permissionID, grantedBy); err != nil {
		return err
	}
	s.invalidateGroupMembers(ctx, groupID)
	return nil
}

// RevokePermission revokes a grant and evicts every group member's cached
// decisions.
func (s *Service) RevokePermission(ctx context.Context, groupID, permissionID string) error {
	if err := s.repo.RevokePermissionFromGroup(ctx, groupID, permissionID); err != nil {
		return err
	}
	s.invalidateGroupMembers(ctx, groupID)
	return nil
}

// ListGroupPermissions returns the permissions granted to a group.
func (s *Service) ListGroupPermissions(ctx context.Context, groupID string) ([]*Permission, error) {
	return s.repo.ListGroupPermissions(ctx, groupID)
}

// GetUserPermissions returns a user's effective permissions in an
// organization with the conveying groups.
func (s *Service) GetUserPermissions(ctx context.Context, userID, orgID string) ([]*UserPermission, error) {
	return s.repo.GetUserPermissions(ctx, userID, orgID)
}

func (s *Service) invalidateGroupMembers(ctx context.Context, groupID string) {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		s.log.Warn("cache invalidation skipped, group lookup failed",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()))
		return
	}
	members, err := s.repo.ListGroupMembers(ctx, groupID)
	if err != nil {
		s.log.Warn("cache invalidation skipped, member listing failed",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()))
		return
	}
	for _, userID := range members {
		s.invalidator.InvalidateUser(ctx, userID, g.OrganizationID)
	}
}
