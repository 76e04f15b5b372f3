package organizations

import (
	"context"
	"database/sql"
	"fmt"

	"grip/internal/engine/permissions"
	"grip/internal/pkg/errors"
	"grip/internal/platform/audit"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

var errLastOwner = fmt.Errorf("an organization must keep at least one owner: %w", errors.ErrConflict)

type AddMemberRequest struct {
	UserID string `json:"user_id,omitempty"`
	Login  string `json:"login,omitempty"`
	Role   string `json:"role"`
}

// ListMembers returns the member list when the viewer may see it.
func (s *Service) ListMembers(ctx context.Context, orgID, viewerID string) ([]*models.Member, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	viewer, err := s.members.Get(ctx, orgID, viewerID)
	if err != nil {
		return nil, err
	}
	if !CanViewMembers(org, viewer) {
		return nil, fmt.Errorf("members of this organization are not public: %w", errors.ErrForbidden)
	}

	members, err := s.members.List(ctx, orgID)
	if members == nil && err == nil {
		members = []*models.Member{}
	}
	return members, err
}

func canManage(role string) func(permissions.CapabilitySet) bool {
	return func(c permissions.CapabilitySet) bool {
		return c.ManageMembers && c.AssignRole(role)
	}
}

func (s *Service) AddMember(ctx context.Context, orgID, actorID string, req AddMemberRequest) (*models.Member, error) {
	if !permissions.ValidRole(req.Role) {
		return nil, fmt.Errorf("invalid role %q: %w", req.Role, errors.ErrInvalidInput)
	}
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	if _, err := s.require(ctx, orgID, actorID, canManage(req.Role), "add a "+req.Role); err != nil {
		return nil, err
	}

	var user *models.User
	var err error
	switch {
	case req.UserID != "":
		user, err = s.users.GetByID(ctx, req.UserID)
	case req.Login != "":
		user, err = s.users.GetByLogin(ctx, req.Login)
	default:
		return nil, fmt.Errorf("user_id or login is required: %w", errors.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %w", errors.ErrNotFound)
	}

	existing, err := s.members.Get(ctx, orgID, user.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%s is already a member: %w", user.Login, errors.ErrConflict)
	}

	m := &models.Member{OrganizationID: orgID, UserID: user.ID, Role: req.Role, Source: models.MemberSourceManual, User: user}
	if err := s.members.Create(ctx, m); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, orgID, actorID, audit.ActionMemberAdded, "member", m.ID, map[string]interface{}{
		"user_id": user.ID,
		"role":    req.Role,
	})
	return m, nil
}

// UpdateRole changes a member's role. The actor must be allowed to assign both the current
// and the new role, and the last owner cannot be demoted.
func (s *Service) UpdateRole(ctx context.Context, orgID, actorID, memberID, role string) (*models.Member, error) {
	if !permissions.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q: %w", role, errors.ErrInvalidInput)
	}

	var updated *models.Member
	var previous string
	err := repositories.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		members := s.members.WithTx(tx)

		target, err := members.GetByID(ctx, orgID, memberID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("member not found: %w", errors.ErrNotFound)
		}

		actor, err := members.Get(ctx, orgID, actorID)
		if err != nil {
			return err
		}
		if actor == nil {
			return fmt.Errorf("not a member of this organization: %w", errors.ErrForbidden)
		}
		caps := permissions.Capabilities(actor.Role)
		if !caps.ManageMembers || !caps.AssignRole(target.Role) || !caps.AssignRole(role) {
			return fmt.Errorf("insufficient permissions to change this role: %w", errors.ErrForbidden)
		}

		if target.Role == models.RoleOwner && role != models.RoleOwner {
			owners, err := members.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return errLastOwner
			}
		}

		if err := members.UpdateRole(ctx, target.ID, role); err != nil {
			return err
		}
		previous = target.Role
		target.Role = role
		updated = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, orgID, actorID, audit.ActionMemberRoleChanged, "member", memberID, map[string]interface{}{
		"from": previous,
		"to":   role,
	})
	return updated, nil
}

// RemoveMember deletes a membership. Members may always leave; removing others needs
// ManageMembers over the target's role. The last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, memberID string) error {
	var removed *models.Member
	err := repositories.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		members := s.members.WithTx(tx)

		target, err := members.GetByID(ctx, orgID, memberID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("member not found: %w", errors.ErrNotFound)
		}

		if target.UserID != actorID {
			actor, err := members.Get(ctx, orgID, actorID)
			if err != nil {
				return err
			}
			if actor == nil {
				return fmt.Errorf("not a member of this organization: %w", errors.ErrForbidden)
			}
			caps := permissions.Capabilities(actor.Role)
			if !caps.ManageMembers || !caps.AssignRole(target.Role) {
				return fmt.Errorf("insufficient permissions to remove this member: %w", errors.ErrForbidden)
			}
		}

		if target.Role == models.RoleOwner {
			owners, err := members.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return errLastOwner
			}
		}

		removed = target
		return members.Delete(ctx, target.ID)
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, orgID, actorID, audit.ActionMemberRemoved, "member", memberID, map[string]interface{}{
		"user_id": removed.UserID,
		"role":    removed.Role,
	})
	return nil
}
