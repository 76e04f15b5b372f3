package repositories

import (
	"context"
	"database/sql"

	"grip/internal/platform/models"
)

type OrganizationRepository struct {
	db Querier
}

func NewOrganizationRepository(db Querier) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) WithTx(tx *sql.Tx) *OrganizationRepository {
	return &OrganizationRepository{db: tx}
}

const orgColumns = `id, slug, name, logo, visibility, github_org_login, github_org_id, github_sync_enabled, last_synced_at, created_at, updated_at`

func scanOrganization(s scanner) (*models.Organization, error) {
	org := &models.Organization{}
	err := s.Scan(&org.ID, &org.Slug, &org.Name, &org.Logo, &org.Visibility, &org.GitHubOrgLogin, &org.GitHubOrgID,
		&org.GitHubSyncEnabled, &org.LastSyncedAt, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = newID("org_")
	}
	ts := now()
	org.CreatedAt, org.UpdatedAt = ts, ts
	if org.Visibility == "" {
		org.Visibility = models.VisibilityPublic
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organizations (id, slug, name, logo, visibility, github_org_login, github_org_id, github_sync_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, org.ID, org.Slug, org.Name, org.Logo, org.Visibility, org.GitHubOrgLogin, org.GitHubOrgID, org.GitHubSyncEnabled, org.CreatedAt, org.UpdatedAt)
	return err
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	org, err := scanOrganization(r.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return org, err
}

func (r *OrganizationRepository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	org, err := scanOrganization(r.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return org, err
}

func (r *OrganizationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.slug, o.name, o.logo, o.visibility, o.github_org_login, o.github_org_id, o.github_sync_enabled, o.last_synced_at, o.created_at, o.updated_at
		FROM organizations o
		JOIN members m ON m.organization_id = o.id
		WHERE m.user_id = ?
		ORDER BY o.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// ListSyncEnabled returns organizations linked to a GitHub org with membership sync turned on.
func (r *OrganizationRepository) ListSyncEnabled(ctx context.Context) ([]*models.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE github_sync_enabled = 1 AND github_org_login IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (r *OrganizationRepository) UpdateVisibility(ctx context.Context, id, visibility string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE organizations SET visibility = ?, updated_at = ? WHERE id = ?`, visibility, now(), id)
	return err
}

func (r *OrganizationRepository) UpdateGitHubLink(ctx context.Context, id string, login *string, githubID *int64, syncEnabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE organizations SET github_org_login = ?, github_org_id = ?, github_sync_enabled = ?, updated_at = ? WHERE id = ?
	`, login, githubID, syncEnabled, now(), id)
	return err
}

func (r *OrganizationRepository) MarkSynced(ctx context.Context, id string, at int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE organizations SET last_synced_at = ? WHERE id = ?`, at, id)
	return err
}
