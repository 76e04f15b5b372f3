// Package githubsync mirrors GitHub organization membership into GRIP organizations.
package githubsync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"grip/internal/pkg/errors"
	"grip/internal/platform/audit"
	"grip/internal/platform/github"
	"grip/internal/platform/metrics"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

type GitHubClient interface {
	OrgMembers(ctx context.Context, token, org string) ([]github.OrgMember, error)
}

type Result struct {
	OrganizationID string   `json:"organization_id"`
	Added          int      `json:"added"`
	Removed        int      `json:"removed"`
	Errors         []string `json:"errors"`
}

type Syncer struct {
	orgs     *repositories.OrganizationRepository
	members  *repositories.MemberRepository
	users    *repositories.UserRepository
	accounts *repositories.AccountRepository
	github   GitHubClient
	audit    *audit.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewSyncer(db *sql.DB, gh GitHubClient, auditLogger *audit.Logger, m *metrics.Metrics) *Syncer {
	return &Syncer{
		orgs:     repositories.NewOrganizationRepository(db),
		members:  repositories.NewMemberRepository(db),
		users:    repositories.NewUserRepository(db),
		accounts: repositories.NewAccountRepository(db),
		github:   gh,
		audit:    auditLogger,
		metrics:  m,
		now:      time.Now,
	}
}

// roleFor maps a GitHub org role to the GRIP role given to newly synced members. Owner and
// billingAdmin are never granted by sync.
func roleFor(githubRole string) string {
	if githubRole == github.RoleAdmin {
		return models.RoleBountyManager
	}
	return models.RoleMember
}

// Sync reconciles the organization's members with its linked GitHub org using token.
// GitHub members with a GRIP account are added; synced members who left GitHub are removed.
// Existing roles are never changed and manually added members are never removed. A failed
// GitHub fetch returns an error before anything is written.
func (s *Syncer) Sync(ctx context.Context, orgID, actorID, token string) (*Result, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("organization not found: %w", errors.ErrNotFound)
	}
	if org.GitHubOrgLogin == nil || !org.GitHubSyncEnabled {
		return nil, fmt.Errorf("organization is not configured for GitHub sync: %w", errors.ErrInvalidInput)
	}
	if token == "" {
		return nil, fmt.Errorf("GitHub account not connected: %w", errors.ErrInvalidInput)
	}

	ghMembers, err := s.github.OrgMembers(ctx, token, *org.GitHubOrgLogin)
	if err != nil {
		s.metrics.SyncRun("failed")
		return nil, fmt.Errorf("failed to fetch GitHub members of %s: %w", *org.GitHubOrgLogin, err)
	}

	gripIDs, err := s.users.MapGitHubIDs(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.members.List(ctx, orgID)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*models.Member, len(current))
	for _, m := range current {
		byUser[m.UserID] = m
	}

	result := &Result{OrganizationID: orgID, Errors: []string{}}
	onGitHub := make(map[int64]bool, len(ghMembers))

	for _, gm := range ghMembers {
		onGitHub[gm.ID] = true

		userID, ok := gripIDs[gm.ID]
		if !ok {
			continue
		}
		if _, exists := byUser[userID]; exists {
			continue
		}

		m := &models.Member{
			OrganizationID: orgID,
			UserID:         userID,
			Role:           roleFor(gm.Role),
			Source:         models.MemberSourceGitHubSync,
		}
		if err := s.members.Create(ctx, m); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to add %s: %v", gm.Login, err))
			continue
		}
		byUser[userID] = m
		result.Added++
	}

	for _, m := range current {
		if m.Source != models.MemberSourceGitHubSync || m.User == nil || m.User.GitHubUserID == nil {
			continue
		}
		if onGitHub[*m.User.GitHubUserID] {
			continue
		}
		if m.Role == models.RoleOwner {
			owners, err := s.members.CountOwners(ctx, orgID)
			if err != nil || owners <= 1 {
				result.Errors = append(result.Errors, fmt.Sprintf("kept %s: last owner", m.User.Login))
				continue
			}
		}
		if err := s.members.Delete(ctx, m.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to remove %s: %v", m.User.Login, err))
			continue
		}
		result.Removed++
	}

	if err := s.orgs.MarkSynced(ctx, orgID, s.now().Unix()); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to record sync time: %v", err))
	}

	outcome := "ok"
	if len(result.Errors) > 0 {
		outcome = "partial"
		log.Warn().Str("org_id", orgID).Strs("errors", result.Errors).Msg("github sync finished with errors")
	}
	s.metrics.SyncRun(outcome)
	s.metrics.MembersSynced(result.Added, result.Removed)

	s.audit.Log(ctx, orgID, actorID, audit.ActionMembersSynced, "organization", orgID, map[string]interface{}{
		"added":   result.Added,
		"removed": result.Removed,
		"errors":  len(result.Errors),
	})
	log.Info().Str("org_id", orgID).Int("added", result.Added).Int("removed", result.Removed).Msg("github sync finished")
	return result, nil
}

// SyncForUser runs Sync with the acting user's stored GitHub token.
func (s *Syncer) SyncForUser(ctx context.Context, orgID, userID string) (*Result, error) {
	token, err := s.accounts.GetToken(ctx, userID, "github")
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, orgID, userID, token)
}

// SyncAll syncs every sync-enabled organization using the token of the first owner who has
// connected GitHub. Organizations without such an owner are skipped.
func (s *Syncer) SyncAll(ctx context.Context) ([]*Result, error) {
	orgs, err := s.orgs.ListSyncEnabled(ctx)
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, org := range orgs {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		ownerID, token, err := s.ownerToken(ctx, org.ID)
		if err != nil {
			log.Error().Err(err).Str("org_id", org.ID).Msg("failed to load owner token for sync")
			continue
		}
		if token == "" {
			log.Warn().Str("org_id", org.ID).Msg("skipping github sync: no owner has connected GitHub")
			continue
		}

		res, err := s.Sync(ctx, org.ID, ownerID, token)
		if err != nil {
			log.Error().Err(err).Str("org_id", org.ID).Msg("github sync failed")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Syncer) ownerToken(ctx context.Context, orgID string) (string, string, error) {
	owners, err := s.members.ListOwners(ctx, orgID)
	if err != nil {
		return "", "", err
	}
	for _, o := range owners {
		token, err := s.accounts.GetToken(ctx, o.UserID, "github")
		if err != nil {
			return "", "", err
		}
		if token != "" {
			return o.UserID, token, nil
		}
	}
	return "", "", nil
}
