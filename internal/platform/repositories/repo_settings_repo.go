package repositories

import (
	"context"
	"database/sql"

	"grip/internal/platform/models"
)

type RepoSettingsRepository struct {
	db Querier
}

func NewRepoSettingsRepository(db Querier) *RepoSettingsRepository {
	return &RepoSettingsRepository{db: db}
}

func (r *RepoSettingsRepository) WithTx(tx *sql.Tx) *RepoSettingsRepository {
	return &RepoSettingsRepository{db: tx}
}

const repoSettingsColumns = `github_repo_id, github_owner, github_repo, verified_owner_user_id, verified_owner_organization_id,
	installation_id, verified_at, auto_pay_enabled, auto_pay_access_key_id, require_owner_approval, created_at, updated_at`

func scanRepoSettings(s scanner) (*models.RepoSettings, error) {
	rs := &models.RepoSettings{}
	err := s.Scan(&rs.GitHubRepoID, &rs.GitHubOwner, &rs.GitHubRepo, &rs.VerifiedOwnerUserID, &rs.VerifiedOwnerOrganizationID,
		&rs.InstallationID, &rs.VerifiedAt, &rs.AutoPayEnabled, &rs.AutoPayAccessKeyID, &rs.RequireOwnerApproval,
		&rs.CreatedAt, &rs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *RepoSettingsRepository) GetByName(ctx context.Context, owner, repo string) (*models.RepoSettings, error) {
	rs, err := scanRepoSettings(r.db.QueryRowContext(ctx, `
		SELECT `+repoSettingsColumns+` FROM repo_settings WHERE github_owner = ? COLLATE NOCASE AND github_repo = ? COLLATE NOCASE
	`, owner, repo))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rs, err
}

func (r *RepoSettingsRepository) ListByInstallation(ctx context.Context, installationID int64) ([]*models.RepoSettings, error) {
	return r.list(ctx, `SELECT `+repoSettingsColumns+` FROM repo_settings WHERE installation_id = ? ORDER BY github_repo_id`, installationID)
}

func (r *RepoSettingsRepository) ListByOrganization(ctx context.Context, orgID string) ([]*models.RepoSettings, error) {
	return r.list(ctx, `SELECT `+repoSettingsColumns+` FROM repo_settings WHERE verified_owner_organization_id = ? ORDER BY github_owner, github_repo`, orgID)
}

func (r *RepoSettingsRepository) ListByUser(ctx context.Context, userID string) ([]*models.RepoSettings, error) {
	return r.list(ctx, `SELECT `+repoSettingsColumns+` FROM repo_settings WHERE verified_owner_user_id = ? ORDER BY github_owner, github_repo`, userID)
}

func (r *RepoSettingsRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.RepoSettings, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.RepoSettings
	for rows.Next() {
		rs, err := scanRepoSettings(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rs)
	}
	return result, rows.Err()
}

func ownerColumns(owner models.RepoOwner) (userID, orgID *string) {
	switch owner.Type {
	case models.OwnerTypeUser:
		return &owner.UserID, nil
	case models.OwnerTypeOrganization:
		return nil, &owner.OrganizationID
	}
	return nil, nil
}

// Claim creates or re-verifies the repo under the given owner and installation. Exactly one
// owner column is set; the other is cleared. Auto-pay and its key survive only when the
// owner is unchanged.
func (r *RepoSettingsRepository) Claim(ctx context.Context, repoID int64, githubOwner, githubRepo string, installationID int64, owner models.RepoOwner) (*models.RepoSettings, error) {
	userID, orgID := ownerColumns(owner)
	ts := now()
	return scanRepoSettings(r.db.QueryRowContext(ctx, `
		INSERT INTO repo_settings (github_repo_id, github_owner, github_repo, verified_owner_user_id, verified_owner_organization_id,
			installation_id, verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_repo_id) DO UPDATE SET
			github_owner = excluded.github_owner,
			github_repo = excluded.github_repo,
			verified_owner_user_id = excluded.verified_owner_user_id,
			verified_owner_organization_id = excluded.verified_owner_organization_id,
			installation_id = excluded.installation_id,
			verified_at = excluded.verified_at,
			auto_pay_access_key_id = CASE
				WHEN repo_settings.verified_owner_user_id IS excluded.verified_owner_user_id
				 AND repo_settings.verified_owner_organization_id IS excluded.verified_owner_organization_id
				THEN repo_settings.auto_pay_access_key_id
				ELSE NULL
			END,
			auto_pay_enabled = CASE
				WHEN repo_settings.verified_owner_user_id IS excluded.verified_owner_user_id
				 AND repo_settings.verified_owner_organization_id IS excluded.verified_owner_organization_id
				THEN repo_settings.auto_pay_enabled
				ELSE 0
			END,
			updated_at = excluded.updated_at
		RETURNING `+repoSettingsColumns,
		repoID, githubOwner, githubRepo, userID, orgID, installationID, ts, ts, ts))
}

// Transfer moves ownership and clears the auto-pay access key so the new owner has to
// configure their own.
func (r *RepoSettingsRepository) Transfer(ctx context.Context, repoID int64, owner models.RepoOwner) (*models.RepoSettings, error) {
	userID, orgID := ownerColumns(owner)
	ts := now()
	rs, err := scanRepoSettings(r.db.QueryRowContext(ctx, `
		UPDATE repo_settings SET verified_owner_user_id = ?, verified_owner_organization_id = ?, auto_pay_access_key_id = NULL,
			auto_pay_enabled = 0, verified_at = ?, updated_at = ?
		WHERE github_repo_id = ?
		RETURNING `+repoSettingsColumns, userID, orgID, ts, ts, repoID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rs, err
}

const unclaimSet = `verified_owner_user_id = NULL, verified_owner_organization_id = NULL, installation_id = NULL,
	verified_at = NULL, auto_pay_access_key_id = NULL, auto_pay_enabled = 0, updated_at = ?`

// UnclaimByInstallation clears ownership of every repo of the installation but keeps the rows
// for historical bounty associations.
func (r *RepoSettingsRepository) UnclaimByInstallation(ctx context.Context, installationID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE repo_settings SET `+unclaimSet+` WHERE installation_id = ?`, now(), installationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RepoSettingsRepository) UnclaimRepo(ctx context.Context, repoID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE repo_settings SET `+unclaimSet+` WHERE github_repo_id = ?`, now(), repoID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *RepoSettingsRepository) UpdateSettings(ctx context.Context, rs *models.RepoSettings) error {
	rs.UpdatedAt = now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE repo_settings SET auto_pay_enabled = ?, auto_pay_access_key_id = ?, require_owner_approval = ?, updated_at = ?
		WHERE github_repo_id = ?
	`, rs.AutoPayEnabled, rs.AutoPayAccessKeyID, rs.RequireOwnerApproval, rs.UpdatedAt, rs.GitHubRepoID)
	return err
}
