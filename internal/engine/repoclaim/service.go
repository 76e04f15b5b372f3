// Package repoclaim ties GitHub repositories to GRIP owners through GitHub App installations.
package repoclaim

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"grip/internal/engine/permissions"
	"grip/internal/engine/webhooks"
	"grip/internal/pkg/errors"
	"grip/internal/platform/audit"
	"grip/internal/platform/auth"
	"grip/internal/platform/github"
	"grip/internal/platform/metrics"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

type GitHubClient interface {
	Repository(ctx context.Context, owner, repo string) (*github.Repository, error)
	InstallURL(state string) string
	InstallationToken(ctx context.Context, installationID int64) (string, error)
	InstallationRepositories(ctx context.Context, installationToken string) ([]github.Repository, error)
}

type ClaimResult struct {
	Claimed []*models.RepoSettings `json:"claimed"`
	Errors  []string               `json:"errors"`
}

type SettingsUpdate struct {
	AutoPayEnabled       *bool   `json:"auto_pay_enabled,omitempty"`
	AutoPayAccessKeyID   *string `json:"auto_pay_access_key_id,omitempty"`
	RequireOwnerApproval *bool   `json:"require_owner_approval,omitempty"`
}

type Service struct {
	settings *repositories.RepoSettingsRepository
	members  *repositories.MemberRepository
	keys     *repositories.AccessKeyRepository
	tokens   *auth.TokenService
	github   GitHubClient
	audit    *audit.Logger
	metrics  *metrics.Metrics
	appURL   string
}

var _ webhooks.Handler = (*Service)(nil)

func NewService(db *sql.DB, tokens *auth.TokenService, gh GitHubClient, appURL string, auditLogger *audit.Logger, m *metrics.Metrics) *Service {
	return &Service{
		settings: repositories.NewRepoSettingsRepository(db),
		members:  repositories.NewMemberRepository(db),
		keys:     repositories.NewAccessKeyRepository(db),
		tokens:   tokens,
		github:   gh,
		audit:    auditLogger,
		metrics:  m,
		appURL:   strings.TrimRight(appURL, "/"),
	}
}

func (s *Service) requireOrgClaim(ctx context.Context, orgID, userID string) error {
	m, err := s.members.Get(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if m == nil || !permissions.Capabilities(m.Role).ClaimRepos {
		return fmt.Errorf("only organization owners can claim repos for the organization: %w", errors.ErrForbidden)
	}
	return nil
}

// InstallURL returns the GitHub App installation URL carrying a signed claim state. owner and
// repo are optional; when given the repository must exist and be public.
func (s *Service) InstallURL(ctx context.Context, actorID, orgID, owner, repo string) (string, error) {
	if orgID != "" {
		if err := s.requireOrgClaim(ctx, orgID, actorID); err != nil {
			return "", err
		}
	}

	state := auth.ClaimState{UserID: actorID, OrganizationID: orgID}
	if owner != "" || repo != "" {
		if owner == "" || repo == "" {
			return "", fmt.Errorf("owner and repo are both required: %w", errors.ErrInvalidInput)
		}
		ghRepo, err := s.github.Repository(ctx, owner, repo)
		if err != nil {
			if github.IsNotFound(err) {
				return "", fmt.Errorf("repository not found on GitHub: %w", errors.ErrNotFound)
			}
			return "", fmt.Errorf("failed to look up repository: %w", err)
		}
		if ghRepo.Private {
			return "", fmt.Errorf("cannot claim private repositories: %w", errors.ErrInvalidInput)
		}
		state.Owner, state.Repo = ghRepo.Owner.Login, ghRepo.Name
	}
	if s.appURL != "" {
		state.CallbackURL = s.appURL + "/api/v1/github/callback"
	}

	signed, err := s.tokens.GenerateClaimState(state)
	if err != nil {
		return "", err
	}
	return s.github.InstallURL(signed), nil
}

// CompleteInstallation handles the App setup callback: it verifies the signed state and
// claims every public repository of the installation for the owner named in the state.
func (s *Service) CompleteInstallation(ctx context.Context, actorID string, installationID int64, rawState string) (*ClaimResult, error) {
	if installationID <= 0 {
		return nil, fmt.Errorf("installation_id is required: %w", errors.ErrInvalidInput)
	}
	state, err := s.tokens.ParseClaimState(rawState)
	if err != nil {
		return nil, fmt.Errorf("invalid or expired claim state: %w", errors.ErrInvalidInput)
	}
	if state.UserID != actorID {
		return nil, fmt.Errorf("claim state belongs to another user: %w", errors.ErrForbidden)
	}

	owner := models.RepoOwner{Type: models.OwnerTypeUser, UserID: actorID}
	if state.OrganizationID != "" {
		if err := s.requireOrgClaim(ctx, state.OrganizationID, actorID); err != nil {
			return nil, err
		}
		owner = models.RepoOwner{Type: models.OwnerTypeOrganization, OrganizationID: state.OrganizationID}
	}

	token, err := s.github.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate installation %d: %w", installationID, err)
	}
	repos, err := s.github.InstallationRepositories(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list installation repositories: %w", err)
	}

	if state.Repo != "" && !containsRepo(repos, state.Owner, state.Repo) {
		return nil, fmt.Errorf("%s/%s is not part of this installation: %w", state.Owner, state.Repo, errors.ErrInvalidInput)
	}

	result := s.claimAll(ctx, installationID, repos, owner)
	if owner.OrganizationID != "" && len(result.Claimed) > 0 {
		s.audit.Log(ctx, owner.OrganizationID, actorID, audit.ActionRepoClaimed, "installation", fmt.Sprint(installationID), map[string]interface{}{
			"repos": len(result.Claimed),
		})
	}
	return result, nil
}

func containsRepo(repos []github.Repository, owner, name string) bool {
	for _, r := range repos {
		if strings.EqualFold(r.Owner.Login, owner) && strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

func (s *Service) claimAll(ctx context.Context, installationID int64, repos []github.Repository, owner models.RepoOwner) *ClaimResult {
	result := &ClaimResult{Claimed: []*models.RepoSettings{}, Errors: []string{}}
	for _, r := range repos {
		if r.Private {
			log.Debug().Str("repo", r.FullName).Msg("skipping private repository")
			continue
		}
		ownerLogin := r.Owner.Login
		if ownerLogin == "" {
			ownerLogin, _, _ = strings.Cut(r.FullName, "/")
		}
		rs, err := s.settings.Claim(ctx, r.ID, ownerLogin, r.Name, installationID, owner)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to claim %s: %v", r.FullName, err))
			continue
		}
		result.Claimed = append(result.Claimed, rs)
	}
	s.metrics.RepoClaimed(len(result.Claimed))
	log.Info().Int64("installation_id", installationID).Int("claimed", len(result.Claimed)).Int("errors", len(result.Errors)).Msg("repositories claimed")
	return result
}

// CanManage reports whether userID owns the repo directly or owns the owning organization.
func (s *Service) CanManage(ctx context.Context, rs *models.RepoSettings, userID string) (bool, error) {
	owner := rs.Owner()
	switch owner.Type {
	case models.OwnerTypeUser:
		return owner.UserID == userID, nil
	case models.OwnerTypeOrganization:
		m, err := s.members.Get(ctx, owner.OrganizationID, userID)
		if err != nil {
			return false, err
		}
		return m != nil && permissions.Capabilities(m.Role).ClaimRepos, nil
	}
	return false, nil
}

func (s *Service) managed(ctx context.Context, actorID, owner, repo string) (*models.RepoSettings, error) {
	rs, err := s.settings.GetByName(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, fmt.Errorf("repository is not registered: %w", errors.ErrNotFound)
	}
	ok, err := s.CanManage(ctx, rs, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("you cannot manage this repository: %w", errors.ErrForbidden)
	}
	return rs, nil
}

func (s *Service) Settings(ctx context.Context, actorID, owner, repo string) (*models.RepoSettings, error) {
	return s.managed(ctx, actorID, owner, repo)
}

// ListForUser returns the repositories userID owns personally.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*models.RepoSettings, error) {
	repos, err := s.settings.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []*models.RepoSettings{}
	}
	return repos, nil
}

// ListForOrganization returns the repositories claimed for orgID. Membership is checked by the caller.
func (s *Service) ListForOrganization(ctx context.Context, orgID string) ([]*models.RepoSettings, error) {
	repos, err := s.settings.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []*models.RepoSettings{}
	}
	return repos, nil
}

// UpdateSettings applies a partial update. An auto-pay key must be active and belong to the
// repo's current owner.
func (s *Service) UpdateSettings(ctx context.Context, actorID, owner, repo string, upd SettingsUpdate) (*models.RepoSettings, error) {
	rs, err := s.managed(ctx, actorID, owner, repo)
	if err != nil {
		return nil, err
	}

	if upd.AutoPayAccessKeyID != nil {
		if *upd.AutoPayAccessKeyID == "" {
			rs.AutoPayAccessKeyID = nil
		} else {
			if err := s.checkAutoPayKey(ctx, rs.Owner(), *upd.AutoPayAccessKeyID); err != nil {
				return nil, err
			}
			rs.AutoPayAccessKeyID = upd.AutoPayAccessKeyID
		}
	}
	if upd.AutoPayEnabled != nil {
		rs.AutoPayEnabled = *upd.AutoPayEnabled
	}
	if upd.RequireOwnerApproval != nil {
		rs.RequireOwnerApproval = *upd.RequireOwnerApproval
	}
	if rs.AutoPayEnabled && rs.AutoPayAccessKeyID == nil {
		return nil, fmt.Errorf("auto-pay needs an access key: %w", errors.ErrInvalidInput)
	}

	if err := s.settings.UpdateSettings(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (s *Service) checkAutoPayKey(ctx context.Context, owner models.RepoOwner, keyID string) error {
	var key *models.AccessKey
	var err error
	switch owner.Type {
	case models.OwnerTypeUser:
		key, err = s.keys.GetForUser(ctx, keyID, owner.UserID)
	case models.OwnerTypeOrganization:
		key, err = s.keys.GetForOrganization(ctx, keyID, owner.OrganizationID)
	}
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("access key not found for this repository owner: %w", errors.ErrNotFound)
	}
	if !key.IsActive() {
		return fmt.Errorf("access key is not active: %w", errors.ErrInvalidInput)
	}
	return nil
}

// Transfer moves a repository between the actor and an organization the actor owns. The
// auto-pay key is cleared so the new owner configures their own.
func (s *Service) Transfer(ctx context.Context, actorID, owner, repo, targetType, targetID string) (*models.RepoSettings, error) {
	rs, err := s.managed(ctx, actorID, owner, repo)
	if err != nil {
		return nil, err
	}

	var target models.RepoOwner
	switch targetType {
	case models.OwnerTypeUser:
		if targetID != "" && targetID != actorID {
			return nil, fmt.Errorf("repositories can only be transferred to yourself: %w", errors.ErrForbidden)
		}
		target = models.RepoOwner{Type: models.OwnerTypeUser, UserID: actorID}
	case models.OwnerTypeOrganization:
		if targetID == "" {
			return nil, fmt.Errorf("target organization is required: %w", errors.ErrInvalidInput)
		}
		if err := s.requireOrgClaim(ctx, targetID, actorID); err != nil {
			return nil, err
		}
		target = models.RepoOwner{Type: models.OwnerTypeOrganization, OrganizationID: targetID}
	default:
		return nil, fmt.Errorf("target type must be user or organization: %w", errors.ErrInvalidInput)
	}

	previous := rs.Owner()
	if previous == target {
		return nil, fmt.Errorf("repository already belongs to this owner: %w", errors.ErrInvalidInput)
	}

	updated, err := s.settings.Transfer(ctx, rs.GitHubRepoID, target)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("repository is not registered: %w", errors.ErrNotFound)
	}

	meta := map[string]interface{}{"repo": rs.GitHubOwner + "/" + rs.GitHubRepo, "from": previous, "to": target}
	for _, orgID := range []string{previous.OrganizationID, target.OrganizationID} {
		if orgID != "" {
			s.audit.Log(ctx, orgID, actorID, audit.ActionRepoTransferred, "repo", fmt.Sprint(rs.GitHubRepoID), meta)
		}
	}
	return updated, nil
}

// Unclaim releases every repository of an uninstalled App installation. Rows are kept.
func (s *Service) Unclaim(ctx context.Context, installationID int64) (int64, error) {
	return s.settings.UnclaimByInstallation(ctx, installationID)
}

func (s *Service) UnclaimRepos(ctx context.Context, repoIDs []int64) (int, error) {
	n := 0
	for _, id := range repoIDs {
		ok, err := s.settings.UnclaimRepo(ctx, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Service) InstallationDeleted(ctx context.Context, installationID int64) error {
	n, err := s.Unclaim(ctx, installationID)
	if err != nil {
		return err
	}
	log.Info().Int64("installation_id", installationID).Int64("repos", n).Msg("installation removed, repositories unclaimed")
	return nil
}

func (s *Service) RepositoriesRemoved(ctx context.Context, installationID int64, repos []webhooks.Repository) error {
	ids := make([]int64, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	_, err := s.UnclaimRepos(ctx, ids)
	return err
}

// RepositoriesAdded claims repositories added to an installation for the owner already
// holding the installation's other repositories. Unknown installations are left for the
// setup callback.
func (s *Service) RepositoriesAdded(ctx context.Context, installationID int64, repos []webhooks.Repository) error {
	existing, err := s.settings.ListByInstallation(ctx, installationID)
	if err != nil {
		return err
	}

	var owner models.RepoOwner
	for _, rs := range existing {
		if rs.IsClaimed() {
			owner = rs.Owner()
			break
		}
	}
	if owner.Type == "" {
		log.Debug().Int64("installation_id", installationID).Msg("no owner known for installation, skipping added repositories")
		return nil
	}

	ghRepos := make([]github.Repository, 0, len(repos))
	for _, r := range repos {
		gr := github.Repository{ID: r.ID, Name: r.Name, FullName: r.FullName, Private: r.Private}
		gr.Owner.Login, _, _ = strings.Cut(r.FullName, "/")
		ghRepos = append(ghRepos, gr)
	}
	result := s.claimAll(ctx, installationID, ghRepos, owner)
	if len(result.Errors) > 0 {
		return fmt.Errorf("failed to claim %d repositories: %s", len(result.Errors), strings.Join(result.Errors, "; "))
	}
	return nil
}
