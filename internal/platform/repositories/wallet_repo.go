package repositories

import (
	"context"
	"database/sql"

	"grip/internal/platform/models"
)

type WalletRepository struct {
	db Querier
}

func NewWalletRepository(db Querier) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) WithTx(tx *sql.Tx) *WalletRepository {
	return &WalletRepository{db: tx}
}

const walletColumns = `id, user_id, passkey_id, address, wallet_type, label, created_at`

func scanWallet(s scanner) (*models.Wallet, error) {
	w := &models.Wallet{}
	if err := s.Scan(&w.ID, &w.UserID, &w.PasskeyID, &w.Address, &w.WalletType, &w.Label, &w.CreatedAt); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WalletRepository) CreatePasskey(ctx context.Context, p *models.Passkey) error {
	if p.ID == "" {
		p.ID = newID("pk_")
	}
	p.CreatedAt = now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO passkeys (id, user_id, name, credential_id, public_key, credential, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.CredentialID, p.PublicKey, p.Credential, p.SignCount, p.CreatedAt)
	return err
}

func (r *WalletRepository) CreateWallet(ctx context.Context, w *models.Wallet) error {
	if w.ID == "" {
		w.ID = newID("wal_")
	}
	w.CreatedAt = now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, passkey_id, address, wallet_type, label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.UserID, w.PasskeyID, w.Address, w.WalletType, w.Label, w.CreatedAt)
	return err
}

// ListPasskeys returns the user's passkeys, newest first, each with its derived wallet.
func (r *WalletRepository) ListPasskeys(ctx context.Context, userID string) ([]*models.Passkey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.user_id, p.name, p.credential_id, p.public_key, p.credential, p.sign_count, p.created_at,
		       w.id, w.address, w.wallet_type
		FROM passkeys p
		LEFT JOIN wallets w ON w.passkey_id = p.id
		WHERE p.user_id = ?
		ORDER BY p.created_at DESC, p.rowid DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passkeys []*models.Passkey
	for rows.Next() {
		var p models.Passkey
		var walletID, address, walletType sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CredentialID, &p.PublicKey, &p.Credential, &p.SignCount, &p.CreatedAt,
			&walletID, &address, &walletType); err != nil {
			return nil, err
		}
		if walletID.Valid {
			passkeyID := p.ID
			p.Wallet = &models.Wallet{
				ID:         walletID.String,
				UserID:     p.UserID,
				PasskeyID:  &passkeyID,
				Address:    address.String,
				WalletType: walletType.String,
			}
		}
		passkeys = append(passkeys, &p)
	}
	return passkeys, rows.Err()
}

// DeletePasskey removes the passkey; the wallet row goes with it through ON DELETE CASCADE.
func (r *WalletRepository) DeletePasskey(ctx context.Context, userID, passkeyID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM passkeys WHERE id = ? AND user_id = ?`, passkeyID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// GetPasskeyWallet returns the user's most recent passkey wallet, or nil.
func (r *WalletRepository) GetPasskeyWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := scanWallet(r.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = ? AND wallet_type = 'passkey' ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (r *WalletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	w, err := scanWallet(r.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (r *WalletRepository) CreateSession(ctx context.Context, s *models.WebAuthnSession) error {
	if s.ID == "" {
		s.ID = newID("was_")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webauthn_sessions (id, user_id, flow, data, expires_at) VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.Flow, s.Data, s.ExpiresAt)
	return err
}

// ConsumeSession deletes and returns an unexpired session. Returns nil when the session is
// unknown, expired or belongs to another flow.
func (r *WalletRepository) ConsumeSession(ctx context.Context, id, flow string, at int64) (*models.WebAuthnSession, error) {
	s := &models.WebAuthnSession{}
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM webauthn_sessions WHERE id = ? AND flow = ? AND expires_at > ?
		RETURNING id, user_id, flow, data, expires_at
	`, id, flow, at).Scan(&s.ID, &s.UserID, &s.Flow, &s.Data, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// PurgeSessions deletes ceremony sessions that expired before at.
func (r *WalletRepository) PurgeSessions(ctx context.Context, at int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_sessions WHERE expires_at <= ?`, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
