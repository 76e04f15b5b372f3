package models

const (
	WalletTypePasskey = "passkey"
	WalletTypeServer  = "server"
)

type Passkey struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	CredentialID string `json:"credential_id"`
	PublicKey    []byte `json:"-"`
	Credential   string `json:"-"` // serialized webauthn.Credential
	SignCount    uint32 `json:"sign_count"`
	CreatedAt    int64  `json:"created_at"`

	Wallet *Wallet `json:"wallet,omitempty"`
}

type Wallet struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	PasskeyID  *string `json:"passkey_id,omitempty"`
	Address    string  `json:"address"`
	WalletType string  `json:"wallet_type"`
	Label      string  `json:"label,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

type WebAuthnSession struct {
	ID        string
	UserID    string
	Flow      string
	Data      string
	ExpiresAt int64
}
