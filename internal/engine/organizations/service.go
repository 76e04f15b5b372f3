package organizations

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"grip/internal/engine/permissions"
	"grip/internal/pkg/errors"
	"grip/internal/platform/audit"
	"grip/internal/platform/github"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,47}$`)

// GitHubClient is the subset of the GitHub API used to verify org admin rights.
type GitHubClient interface {
	OrgMembership(ctx context.Context, token, org string) (*github.Membership, error)
}

type Service struct {
	db       *sql.DB
	orgs     *repositories.OrganizationRepository
	members  *repositories.MemberRepository
	users    *repositories.UserRepository
	accounts *repositories.AccountRepository
	wallets  *repositories.WalletRepository
	github   GitHubClient
	audit    *audit.Logger
}

func NewService(db *sql.DB, gh GitHubClient, auditLogger *audit.Logger) *Service {
	return &Service{
		db:       db,
		orgs:     repositories.NewOrganizationRepository(db),
		members:  repositories.NewMemberRepository(db),
		users:    repositories.NewUserRepository(db),
		accounts: repositories.NewAccountRepository(db),
		wallets:  repositories.NewWalletRepository(db),
		github:   gh,
		audit:    auditLogger,
	}
}

// Slugify turns a display name into a URL slug.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// Create makes a new organization with actorID as its owner.
func (s *Service) Create(ctx context.Context, actorID, name, slug string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", errors.ErrInvalidInput)
	}
	if slug == "" {
		slug = Slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("slug must be 2-48 lowercase letters, digits or dashes: %w", errors.ErrInvalidInput)
	}

	existing, err := s.orgs.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("slug %q is taken: %w", slug, errors.ErrConflict)
	}

	org := &models.Organization{Name: name, Slug: slug, Visibility: models.VisibilityPublic}
	err = repositories.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.orgs.WithTx(tx).Create(ctx, org); err != nil {
			return err
		}
		return s.members.WithTx(tx).Create(ctx, &models.Member{
			OrganizationID: org.ID,
			UserID:         actorID,
			Role:           models.RoleOwner,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("org_id", org.ID).Str("user_id", actorID).Msg("organization created")
	return org, nil
}

func (s *Service) Get(ctx context.Context, orgID string) (*models.Organization, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("organization not found: %w", errors.ErrNotFound)
	}
	return org, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]*models.Organization, error) {
	orgs, err := s.orgs.ListForUser(ctx, userID)
	if orgs == nil && err == nil {
		orgs = []*models.Organization{}
	}
	return orgs, err
}

// Membership returns the user's membership, or nil when they are not a member.
func (s *Service) Membership(ctx context.Context, orgID, userID string) (*models.Member, error) {
	return s.members.Get(ctx, orgID, userID)
}

// CanView reports whether a viewer with the given membership (nil for non-members) may see
// the organization profile.
func CanView(org *models.Organization, membership *models.Member) bool {
	if membership != nil {
		return true
	}
	return org.Visibility != models.VisibilityPrivate
}

// CanViewMembers reports whether the member list is visible to the viewer.
func CanViewMembers(org *models.Organization, membership *models.Member) bool {
	if membership != nil {
		return true
	}
	return org.Visibility == models.VisibilityPublic
}

// require loads the actor's membership and checks it grants the capability picked by allowed.
func (s *Service) require(ctx context.Context, orgID, actorID string, allowed func(permissions.CapabilitySet) bool, action string) (*models.Member, error) {
	m, err := s.members.Get(ctx, orgID, actorID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("not a member of this organization: %w", errors.ErrForbidden)
	}
	if !allowed(permissions.Capabilities(m.Role)) {
		return nil, fmt.Errorf("insufficient permissions to %s: %w", action, errors.ErrForbidden)
	}
	return m, nil
}

func (s *Service) UpdateVisibility(ctx context.Context, orgID, actorID, visibility string) (*models.Organization, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if _, err := s.require(ctx, orgID, actorID, func(c permissions.CapabilitySet) bool { return c.ManageOrganization }, "update visibility"); err != nil {
		return nil, err
	}
	if !permissions.ValidVisibility(visibility) {
		return nil, fmt.Errorf("visibility must be one of public, private, members_only: %w", errors.ErrInvalidInput)
	}

	if err := s.orgs.UpdateVisibility(ctx, orgID, visibility); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, orgID, actorID, audit.ActionVisibilityUpdated, "organization", orgID, map[string]interface{}{
		"from": org.Visibility,
		"to":   visibility,
	})
	org.Visibility = visibility
	return org, nil
}

// LinkGitHub links the organization to a GitHub org the actor administers. An empty login
// unlinks and disables sync.
func (s *Service) LinkGitHub(ctx context.Context, orgID, actorID, login string, syncEnabled bool) (*models.Organization, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if _, err := s.require(ctx, orgID, actorID, func(c permissions.CapabilitySet) bool { return c.ManageOrganization }, "link a GitHub organization"); err != nil {
		return nil, err
	}

	login = strings.TrimSpace(login)
	if login == "" {
		if err := s.orgs.UpdateGitHubLink(ctx, orgID, nil, nil, false); err != nil {
			return nil, err
		}
		org.GitHubOrgLogin, org.GitHubOrgID, org.GitHubSyncEnabled = nil, nil, false
		s.audit.Log(ctx, orgID, actorID, audit.ActionGitHubLinked, "organization", orgID, map[string]interface{}{"login": nil})
		return org, nil
	}

	token, err := s.accounts.GetToken(ctx, actorID, "github")
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("GitHub account not connected: %w", errors.ErrInvalidInput)
	}

	membership, err := s.github.OrgMembership(ctx, token, login)
	if err != nil {
		if github.IsNotFound(err) {
			return nil, fmt.Errorf("you are not a member of GitHub organization %s: %w", login, errors.ErrForbidden)
		}
		return nil, fmt.Errorf("failed to check GitHub membership: %w", err)
	}
	if membership.Role != github.RoleAdmin || membership.State != "active" {
		return nil, fmt.Errorf("only GitHub organization admins can link %s: %w", login, errors.ErrForbidden)
	}

	canonical := login
	if membership.Organization.Login != "" {
		canonical = membership.Organization.Login
	}
	var githubID *int64
	if membership.Organization.ID != 0 {
		id := membership.Organization.ID
		githubID = &id
	}

	if err := s.orgs.UpdateGitHubLink(ctx, orgID, &canonical, githubID, syncEnabled); err != nil {
		return nil, err
	}
	org.GitHubOrgLogin, org.GitHubOrgID, org.GitHubSyncEnabled = &canonical, githubID, syncEnabled

	s.audit.Log(ctx, orgID, actorID, audit.ActionGitHubLinked, "organization", orgID, map[string]interface{}{
		"login":        canonical,
		"sync_enabled": syncEnabled,
	})
	return org, nil
}

// WalletAddress returns the organization treasury: the passkey wallet of its first owner.
func (s *Service) WalletAddress(ctx context.Context, orgID, actorID string) (string, error) {
	if _, err := s.require(ctx, orgID, actorID, func(c permissions.CapabilitySet) bool { return c.ViewWallet }, "view the wallet"); err != nil {
		return "", err
	}
	owner, err := s.members.FirstOwner(ctx, orgID)
	if err != nil {
		return "", err
	}
	if owner == nil {
		return "", fmt.Errorf("organization has no owner: %w", errors.ErrNotFound)
	}
	w, err := s.wallets.GetPasskeyWallet(ctx, owner.UserID)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", fmt.Errorf("organization owner has no passkey wallet: %w", errors.ErrNotFound)
	}
	return w.Address, nil
}
