package models

const (
	AccessKeyStatusActive  = "active"
	AccessKeyStatusRevoked = "revoked"
)

// TokenLimit holds base-unit amounts as decimal strings; they exceed int64 for 18-decimal tokens.
type TokenLimit struct {
	Initial   string `json:"initial"`
	Remaining string `json:"remaining"`
}

type AccessKey struct {
	ID                     string                `json:"id"`
	UserID                 *string               `json:"user_id,omitempty"`
	OrganizationID         *string               `json:"organization_id,omitempty"`
	Network                string                `json:"network"`
	ChainID                int64                 `json:"chain_id"`
	RootWalletID           *string               `json:"root_wallet_id,omitempty"`
	RootAddress            string                `json:"root_address"`
	KeyWalletID            *string               `json:"key_wallet_id,omitempty"`
	KeyAddress             string                `json:"key_address"`
	Limits                 map[string]TokenLimit `json:"limits"` // JSON object in DB
	Expiry                 *int64                `json:"expiry,omitempty"`
	AuthorizationSignature string                `json:"authorization_signature"`
	AuthorizationHash      string                `json:"authorization_hash"`
	Status                 string                `json:"status"`
	IsDedicated            bool                  `json:"is_dedicated"`
	Label                  string                `json:"label"`
	CreatedBy              string                `json:"created_by"`
	CreatedAt              int64                 `json:"created_at"`
	UpdatedAt              int64                 `json:"updated_at"`
	LastUsedAt             *int64                `json:"last_used_at,omitempty"`
	RevokedAt              *int64                `json:"revoked_at,omitempty"`
	RevokedReason          *string               `json:"revoked_reason,omitempty"`
}

func (k *AccessKey) IsActive() bool {
	return k.Status == AccessKeyStatusActive
}

// IsExpired reports whether the key carries an expiry at or before now (unix seconds).
func (k *AccessKey) IsExpired(now int64) bool {
	return k.Expiry != nil && *k.Expiry <= now
}
