package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"grip/internal/platform/models"
)

type AccessKeyRepository struct {
	db Querier
}

func NewAccessKeyRepository(db Querier) *AccessKeyRepository {
	return &AccessKeyRepository{db: db}
}

func (r *AccessKeyRepository) WithTx(tx *sql.Tx) *AccessKeyRepository {
	return &AccessKeyRepository{db: tx}
}

const accessKeyColumns = `id, user_id, organization_id, network, chain_id, root_wallet_id, root_address, key_wallet_id, key_address,
	limits, expiry, authorization_signature, authorization_hash, status, is_dedicated, label, created_by,
	created_at, updated_at, last_used_at, revoked_at, revoked_reason`

func scanAccessKey(s scanner) (*models.AccessKey, error) {
	var k models.AccessKey
	var limitsStr string

	err := s.Scan(&k.ID, &k.UserID, &k.OrganizationID, &k.Network, &k.ChainID, &k.RootWalletID, &k.RootAddress,
		&k.KeyWalletID, &k.KeyAddress, &limitsStr, &k.Expiry, &k.AuthorizationSignature, &k.AuthorizationHash,
		&k.Status, &k.IsDedicated, &k.Label, &k.CreatedBy, &k.CreatedAt, &k.UpdatedAt, &k.LastUsedAt,
		&k.RevokedAt, &k.RevokedReason)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(limitsStr), &k.Limits); err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *AccessKeyRepository) Create(ctx context.Context, key *models.AccessKey) error {
	if key.ID == "" {
		key.ID = newID("ak_")
	}
	ts := now()
	key.CreatedAt, key.UpdatedAt = ts, ts
	if key.Status == "" {
		key.Status = models.AccessKeyStatusActive
	}

	limitsJSON, err := json.Marshal(key.Limits)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO access_keys (id, user_id, organization_id, network, chain_id, root_wallet_id, root_address, key_wallet_id, key_address,
			limits, expiry, authorization_signature, authorization_hash, status, is_dedicated, label, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.UserID, key.OrganizationID, key.Network, key.ChainID, key.RootWalletID, key.RootAddress, key.KeyWalletID,
		key.KeyAddress, string(limitsJSON), key.Expiry, key.AuthorizationSignature, key.AuthorizationHash, key.Status,
		key.IsDedicated, key.Label, key.CreatedBy, key.CreatedAt, key.UpdatedAt)
	return err
}

func (r *AccessKeyRepository) GetByID(ctx context.Context, id string) (*models.AccessKey, error) {
	k, err := scanAccessKey(r.db.QueryRowContext(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return k, err
}

// GetForUser returns the key only when it is a personal key of userID.
func (r *AccessKeyRepository) GetForUser(ctx context.Context, id, userID string) (*models.AccessKey, error) {
	k, err := scanAccessKey(r.db.QueryRowContext(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE id = ? AND user_id = ?`, id, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return k, err
}

// GetForOrganization returns the key only when it belongs to orgID.
func (r *AccessKeyRepository) GetForOrganization(ctx context.Context, id, orgID string) (*models.AccessKey, error) {
	k, err := scanAccessKey(r.db.QueryRowContext(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE id = ? AND organization_id = ?`, id, orgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return k, err
}

func (r *AccessKeyRepository) ListByUser(ctx context.Context, userID, network string) ([]*models.AccessKey, error) {
	return r.list(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE user_id = ? AND network = ? ORDER BY created_at DESC, rowid DESC`, userID, network)
}

func (r *AccessKeyRepository) ListByOrganization(ctx context.Context, orgID, network string) ([]*models.AccessKey, error) {
	return r.list(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE organization_id = ? AND network = ? ORDER BY created_at DESC, rowid DESC`, orgID, network)
}

// ListExpired returns active keys whose expiry is at or before the given unix time.
func (r *AccessKeyRepository) ListExpired(ctx context.Context, at int64) ([]*models.AccessKey, error) {
	return r.list(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE status = 'active' AND expiry IS NOT NULL AND expiry <= ?`, at)
}

func (r *AccessKeyRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.AccessKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.AccessKey
	for rows.Next() {
		k, err := scanAccessKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke flips an active key to revoked. It reports false when the key was not active, so a
// second revoke never overwrites the original reason and timestamp.
func (r *AccessKeyRepository) Revoke(ctx context.Context, id, reason string) (bool, error) {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_keys SET status = 'revoked', revoked_at = ?, revoked_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`, ts, reason, ts, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateLimits stores new limits if the row still carries the limits the caller read.
// It reports false when a concurrent writer changed them first.
func (r *AccessKeyRepository) UpdateLimits(ctx context.Context, id string, previous, next map[string]models.TokenLimit) (bool, error) {
	prevJSON, err := json.Marshal(previous)
	if err != nil {
		return false, err
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return false, err
	}
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_keys SET limits = ?, last_used_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active' AND limits = ?
	`, string(nextJSON), ts, ts, id, string(prevJSON))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
