// Package permissions is the single place organization roles are turned into capabilities.
// Handlers and services ask for a capability instead of comparing role strings.
package permissions

import "grip/internal/platform/models"

type CapabilitySet struct {
	ViewOrganization   bool
	ManageMembers      bool
	ViewWallet         bool
	ManageOrganization bool
	ManageAccessKeys   bool
	ClaimRepos         bool

	assignable map[string]bool
}

// AssignRole reports whether a holder of this set may grant role to someone else, or move
// someone away from it.
func (c CapabilitySet) AssignRole(role string) bool {
	return c.assignable[role]
}

var allRoles = []string{models.RoleOwner, models.RoleBillingAdmin, models.RoleBountyManager, models.RoleMember}

// Capabilities returns what role may do inside an organization. Unknown roles get nothing.
func Capabilities(role string) CapabilitySet {
	switch role {
	case models.RoleOwner:
		assignable := make(map[string]bool, len(allRoles))
		for _, r := range allRoles {
			assignable[r] = true
		}
		return CapabilitySet{
			ViewOrganization:   true,
			ManageMembers:      true,
			ViewWallet:         true,
			ManageOrganization: true,
			ManageAccessKeys:   true,
			ClaimRepos:         true,
			assignable:         assignable,
		}
	case models.RoleBillingAdmin:
		return CapabilitySet{ViewOrganization: true, ViewWallet: true}
	case models.RoleBountyManager:
		return CapabilitySet{
			ViewOrganization: true,
			ManageMembers:    true,
			assignable: map[string]bool{
				models.RoleBountyManager: true,
				models.RoleMember:        true,
			},
		}
	case models.RoleMember:
		return CapabilitySet{ViewOrganization: true}
	}
	return CapabilitySet{}
}

func ValidRole(role string) bool {
	for _, r := range allRoles {
		if r == role {
			return true
		}
	}
	return false
}

func ValidVisibility(v string) bool {
	switch v {
	case models.VisibilityPublic, models.VisibilityPrivate, models.VisibilityMembersOnly:
		return true
	}
	return false
}
