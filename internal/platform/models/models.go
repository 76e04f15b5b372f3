package models

const (
	RoleOwner         = "owner"
	RoleBillingAdmin  = "billingAdmin"
	RoleBountyManager = "bountyManager"
	RoleMember        = "member"
)

const (
	VisibilityPublic      = "public"
	VisibilityPrivate     = "private"
	VisibilityMembersOnly = "members_only"
)

const (
	MemberSourceManual     = "manual"
	MemberSourceGitHubSync = "github_sync"
)

type User struct {
	ID           string `json:"id"`
	Login        string `json:"login"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	GitHubUserID *int64 `json:"github_user_id,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Account links a user to an external identity provider. The OAuth token is kept for
// GitHub API calls made on the user's behalf.
type Account struct {
	UserID      string `json:"user_id"`
	Provider    string `json:"provider"`
	AccountID   string `json:"account_id"`
	AccessToken string `json:"-"`
	Scope       string `json:"scope"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type Organization struct {
	ID                string  `json:"id"`
	Slug              string  `json:"slug"`
	Name              string  `json:"name"`
	Logo              string  `json:"logo,omitempty"`
	Visibility        string  `json:"visibility"`
	GitHubOrgLogin    *string `json:"github_org_login,omitempty"`
	GitHubOrgID       *int64  `json:"github_org_id,omitempty"`
	GitHubSyncEnabled bool    `json:"github_sync_enabled"`
	LastSyncedAt      *int64  `json:"last_synced_at,omitempty"`
	CreatedAt         int64   `json:"created_at"`
	UpdatedAt         int64   `json:"updated_at"`
}

type Member struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	Source         string `json:"source"`
	CreatedAt      int64  `json:"created_at"`

	User *User `json:"user,omitempty"`
}
