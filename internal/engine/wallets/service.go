// Package wallets registers passkeys and manages the wallets derived from them.
package wallets

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/rs/zerolog/log"
	"grip/internal/pkg/errors"
	"grip/internal/platform/config"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

const (
	flowRegister = "register"
	sessionTTL   = 5 * time.Minute
)

// Ceremony is the subset of *webauthn.WebAuthn used for registration.
type Ceremony interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, owner, token string) (*big.Int, error)
}

func NewWebAuthn(cfg config.WebAuthnConfig) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     cfg.Origins,
	})
}

type RegistrationOptions struct {
	SessionID string                       `json:"session_id"`
	Options   *protocol.CredentialCreation `json:"options"`
}

type Balance struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type Service struct {
	db       *sql.DB
	users    *repositories.UserRepository
	wallets  *repositories.WalletRepository
	ceremony Ceremony
	chain    BalanceReader
	parse    func([]byte) (*protocol.ParsedCredentialCreationData, error)
}

func NewService(db *sql.DB, ceremony Ceremony, chain BalanceReader) *Service {
	return &Service{
		db:       db,
		users:    repositories.NewUserRepository(db),
		wallets:  repositories.NewWalletRepository(db),
		ceremony: ceremony,
		chain:    chain,
		parse:    protocol.ParseCredentialCreationResponseBytes,
	}
}

type passkeyUser struct {
	user        *models.User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *passkeyUser) WebAuthnName() string                       { return u.user.Login }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (u *passkeyUser) WebAuthnDisplayName() string {
	if u.user.Name != "" {
		return u.user.Name
	}
	return u.user.Login
}

func (s *Service) loadUser(ctx context.Context, userID string) (*passkeyUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %w", errors.ErrNotFound)
	}
	passkeys, err := s.wallets.ListPasskeys(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, 0, len(passkeys))
	for _, p := range passkeys {
		var c webauthn.Credential
		if err := json.Unmarshal([]byte(p.Credential), &c); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", p.CredentialID, err)
		}
		creds = append(creds, c)
	}
	return &passkeyUser{user: user, credentials: creds}, nil
}

func (s *Service) BeginRegistration(ctx context.Context, userID string) (*RegistrationOptions, error) {
	if s.ceremony == nil {
		return nil, fmt.Errorf("passkeys are not configured")
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(u.credentials))
	for _, c := range u.credentials {
		exclusions = append(exclusions, c.Descriptor())
	}
	options, session, err := s.ceremony.BeginRegistration(u,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	rec := &models.WebAuthnSession{
		UserID:    userID,
		Flow:      flowRegister,
		Data:      string(data),
		ExpiresAt: time.Now().Add(sessionTTL).Unix(),
	}
	if err := s.wallets.CreateSession(ctx, rec); err != nil {
		return nil, err
	}
	return &RegistrationOptions{SessionID: rec.ID, Options: options}, nil
}

// FinishRegistration validates the attestation, stores the passkey and creates the wallet
// derived from its public key. The session is single use.
func (s *Service) FinishRegistration(ctx context.Context, userID, sessionID, name string, response []byte) (*models.Passkey, error) {
	if s.ceremony == nil {
		return nil, fmt.Errorf("passkeys are not configured")
	}
	if strings.TrimSpace(sessionID) == "" || len(response) == 0 {
		return nil, fmt.Errorf("session_id and credential are required: %w", errors.ErrInvalidInput)
	}

	rec, err := s.wallets.ConsumeSession(ctx, sessionID, flowRegister, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("invalid or expired registration session: %w", errors.ErrInvalidInput)
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("registration session belongs to another user: %w", errors.ErrForbidden)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(rec.Data), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	parsed, err := s.parse(response)
	if err != nil {
		return nil, fmt.Errorf("invalid credential response: %w", errors.ErrInvalidInput)
	}
	credential, err := s.ceremony.CreateCredential(u, session, parsed)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("passkey attestation rejected")
		return nil, fmt.Errorf("credential validation failed: %w", errors.ErrInvalidInput)
	}

	address, err := AddressFromCOSEKey(credential.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errors.ErrInvalidInput)
	}
	raw, err := json.Marshal(credential)
	if err != nil {
		return nil, err
	}

	if name = strings.TrimSpace(name); name == "" {
		name = "Passkey"
	}
	passkey := &models.Passkey{
		UserID:       userID,
		Name:         name,
		CredentialID: base64.RawURLEncoding.EncodeToString(credential.ID),
		PublicKey:    credential.PublicKey,
		Credential:   string(raw),
		SignCount:    credential.Authenticator.SignCount,
	}
	err = repositories.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		wallets := s.wallets.WithTx(tx)
		if err := wallets.CreatePasskey(ctx, passkey); err != nil {
			return err
		}
		passkey.Wallet = &models.Wallet{
			UserID:     userID,
			PasskeyID:  &passkey.ID,
			Address:    address,
			WalletType: models.WalletTypePasskey,
			Label:      name,
		}
		return wallets.CreateWallet(ctx, passkey.Wallet)
	})
	if err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, fmt.Errorf("passkey already registered: %w", errors.ErrConflict)
		}
		return nil, err
	}

	log.Info().Str("user_id", userID).Str("passkey_id", passkey.ID).Str("address", address).Msg("passkey registered")
	return passkey, nil
}

func (s *Service) ListPasskeys(ctx context.Context, userID string) ([]*models.Passkey, error) {
	passkeys, err := s.wallets.ListPasskeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	if passkeys == nil {
		passkeys = []*models.Passkey{}
	}
	return passkeys, nil
}

// DeletePasskey removes the passkey and its wallet. Access keys rooted at the wallet keep
// their stored addresses.
func (s *Service) DeletePasskey(ctx context.Context, userID, passkeyID string) error {
	ok, err := s.wallets.DeletePasskey(ctx, userID, passkeyID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("passkey not found: %w", errors.ErrNotFound)
	}
	return nil
}

func (s *Service) UserWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := s.wallets.GetPasskeyWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("no wallet yet, register a passkey first: %w", errors.ErrNotFound)
	}
	return w, nil
}

func (s *Service) Balance(ctx context.Context, userID, token string) (*Balance, error) {
	w, err := s.UserWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.chain == nil {
		return nil, fmt.Errorf("chain client is not configured")
	}
	amount, err := s.chain.Balance(ctx, w.Address, token)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return &Balance{Address: w.Address, Token: token, Amount: amount.String()}, nil
}

// PurgeSessions drops abandoned registration ceremonies.
func (s *Service) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.wallets.PurgeSessions(ctx, now.Unix())
}
