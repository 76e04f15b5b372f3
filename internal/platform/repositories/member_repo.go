package repositories

import (
	"context"
	"database/sql"

	"grip/internal/platform/models"
)

type MemberRepository struct {
	db Querier
}

func NewMemberRepository(db Querier) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) WithTx(tx *sql.Tx) *MemberRepository {
	return &MemberRepository{db: tx}
}

func scanMember(s scanner) (*models.Member, error) {
	m := &models.Member{}
	if err := s.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.Source, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MemberRepository) Create(ctx context.Context, m *models.Member) error {
	if m.ID == "" {
		m.ID = newID("mem_")
	}
	if m.Source == "" {
		m.Source = models.MemberSourceManual
	}
	m.CreatedAt = now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (id, organization_id, user_id, role, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.OrganizationID, m.UserID, m.Role, m.Source, m.CreatedAt)
	return err
}

// Get returns the membership of userID in orgID, or nil when the user is not a member.
func (r *MemberRepository) Get(ctx context.Context, orgID, userID string) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, role, source, created_at FROM members WHERE organization_id = ? AND user_id = ?
	`, orgID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *MemberRepository) GetByID(ctx context.Context, orgID, memberID string) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, role, source, created_at FROM members WHERE organization_id = ? AND id = ?
	`, orgID, memberID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// List returns the organization's members with their user profile attached.
func (r *MemberRepository) List(ctx context.Context, orgID string) ([]*models.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.organization_id, m.user_id, m.role, m.source, m.created_at,
		       u.id, u.login, u.name, u.email, u.github_user_id, u.created_at, u.updated_at
		FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = ?
		ORDER BY m.created_at, m.rowid
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m := &models.Member{User: &models.User{}}
		u := m.User
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.Source, &m.CreatedAt,
			&u.ID, &u.Login, &u.Name, &u.Email, &u.GitHubUserID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *MemberRepository) UpdateRole(ctx context.Context, memberID, role string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE members SET role = ? WHERE id = ?`, role, memberID)
	return err
}

func (r *MemberRepository) Delete(ctx context.Context, memberID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, memberID)
	return err
}

func (r *MemberRepository) CountOwners(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE organization_id = ? AND role = ?`, orgID, models.RoleOwner).Scan(&count)
	return count, err
}

// FirstOwner returns the earliest owner of the organization, or nil if it has none.
func (r *MemberRepository) FirstOwner(ctx context.Context, orgID string) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, role, source, created_at FROM members
		WHERE organization_id = ? AND role = ? ORDER BY created_at, rowid LIMIT 1
	`, orgID, models.RoleOwner))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListOwners returns all owners, oldest first.
func (r *MemberRepository) ListOwners(ctx context.Context, orgID string) ([]*models.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, user_id, role, source, created_at FROM members
		WHERE organization_id = ? AND role = ? ORDER BY created_at, rowid
	`, orgID, models.RoleOwner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, m)
	}
	return owners, rows.Err()
}
