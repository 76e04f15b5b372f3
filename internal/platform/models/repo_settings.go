package models

type RepoSettings struct {
	GitHubRepoID                int64   `json:"github_repo_id"`
	GitHubOwner                 string  `json:"github_owner"`
	GitHubRepo                  string  `json:"github_repo"`
	VerifiedOwnerUserID         *string `json:"verified_owner_user_id,omitempty"`
	VerifiedOwnerOrganizationID *string `json:"verified_owner_organization_id,omitempty"`
	InstallationID              *int64  `json:"installation_id,omitempty"`
	VerifiedAt                  *int64  `json:"verified_at,omitempty"`
	AutoPayEnabled              bool    `json:"auto_pay_enabled"`
	AutoPayAccessKeyID          *string `json:"auto_pay_access_key_id,omitempty"`
	RequireOwnerApproval        bool    `json:"require_owner_approval"`
	CreatedAt                   int64   `json:"created_at"`
	UpdatedAt                   int64   `json:"updated_at"`
}

func (s *RepoSettings) IsClaimed() bool {
	return s.VerifiedOwnerUserID != nil || s.VerifiedOwnerOrganizationID != nil
}

const (
	OwnerTypeUser         = "user"
	OwnerTypeOrganization = "organization"
	OwnerTypeUnclaimed    = "unclaimed"
)

// RepoOwner is the verified owner of a repository: a user, an organization, or nobody.
type RepoOwner struct {
	Type           string `json:"type"`
	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

func (s *RepoSettings) Owner() RepoOwner {
	switch {
	case s == nil:
		return RepoOwner{Type: OwnerTypeUnclaimed}
	case s.VerifiedOwnerUserID != nil:
		return RepoOwner{Type: OwnerTypeUser, UserID: *s.VerifiedOwnerUserID}
	case s.VerifiedOwnerOrganizationID != nil:
		return RepoOwner{Type: OwnerTypeOrganization, OrganizationID: *s.VerifiedOwnerOrganizationID}
	default:
		return RepoOwner{Type: OwnerTypeUnclaimed}
	}
}
