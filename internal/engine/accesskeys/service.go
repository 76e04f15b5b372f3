package accesskeys

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"
	"grip/internal/pkg/errors"
	"grip/internal/platform/audit"
	"grip/internal/platform/config"
	"grip/internal/platform/metrics"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

const (
	ReasonDedicatedConsumed = "Dedicated key consumed"
	ReasonExpired           = "Expired"
	ReasonRevokedByOwner    = "Revoked by owner"
	ReasonRevokedByUser     = "Revoked by user"
)

var (
	ErrKeyNotActive  = fmt.Errorf("access key is not active: %w", errors.ErrConflict)
	ErrKeyExpired    = fmt.Errorf("access key has expired: %w", errors.ErrConflict)
	ErrLimitExceeded = fmt.Errorf("amount exceeds remaining limit: %w", errors.ErrInvalidInput)
)

type CreateRequest struct {
	// KeyWalletID selects one of the caller's wallets as the delegate signer. Empty means the
	// backend server wallet.
	KeyWalletID            string          `json:"key_wallet_id,omitempty"`
	TeamMemberUserID       string          `json:"team_member_user_id,omitempty"`
	SpendingLimits         []SpendingLimit `json:"spending_limits"`
	Expiry                 *int64          `json:"expiry,omitempty"`
	AuthorizationSignature string          `json:"authorization_signature"`
	AuthorizationHash      string          `json:"authorization_hash"`
	ChainID                int64           `json:"chain_id,omitempty"`
	Label                  string          `json:"label,omitempty"`
}

type DedicatedRequest struct {
	Token                  string `json:"token"`
	Amount                 string `json:"amount"`
	KeyWalletID            string `json:"key_wallet_id,omitempty"`
	Expiry                 *int64 `json:"expiry,omitempty"`
	AuthorizationSignature string `json:"authorization_signature"`
	AuthorizationHash      string `json:"authorization_hash"`
	ChainID                int64  `json:"chain_id,omitempty"`
	Label                  string `json:"label,omitempty"`
}

type Service struct {
	keys    *repositories.AccessKeyRepository
	wallets *repositories.WalletRepository
	members *repositories.MemberRepository
	audit   *audit.Logger
	metrics *metrics.Metrics
	chain   config.ChainConfig
	now     func() time.Time
}

func NewService(db *sql.DB, chain config.ChainConfig, auditLogger *audit.Logger, m *metrics.Metrics) *Service {
	return &Service{
		keys:    repositories.NewAccessKeyRepository(db),
		wallets: repositories.NewWalletRepository(db),
		members: repositories.NewMemberRepository(db),
		audit:   auditLogger,
		metrics: m,
		chain:   chain,
		now:     time.Now,
	}
}

func (s *Service) validateAuthorization(sig, hash string, expiry *int64) error {
	if !signaturePattern.MatchString(sig) {
		return fmt.Errorf("authorization_signature must be 0x-prefixed hex: %w", errors.ErrInvalidInput)
	}
	if !hashPattern.MatchString(hash) {
		return fmt.Errorf("authorization_hash must be a 32-byte 0x-prefixed hex value: %w", errors.ErrInvalidInput)
	}
	if expiry != nil && *expiry <= s.now().Unix() {
		return fmt.Errorf("expiry must be in the future: %w", errors.ErrInvalidInput)
	}
	return nil
}

func (s *Service) chainID(requested int64) int64 {
	if requested != 0 {
		return requested
	}
	return s.chain.ChainID
}

// rootWallet resolves the passkey wallet that funds keys created by userID.
func (s *Service) rootWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := s.wallets.GetPasskeyWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("a passkey wallet is required to authorize access keys: %w", errors.ErrInvalidInput)
	}
	return w, nil
}

// keyWallet resolves the delegate signer: one of the user's own wallets, or the server wallet.
func (s *Service) keyWallet(ctx context.Context, userID, walletID string) (*string, string, error) {
	if walletID == "" {
		if !IsAddress(s.chain.ServerWalletAddress) {
			return nil, "", fmt.Errorf("server wallet is not configured")
		}
		return nil, s.chain.ServerWalletAddress, nil
	}
	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, "", err
	}
	if w == nil || w.UserID != userID {
		return nil, "", fmt.Errorf("key wallet not found: %w", errors.ErrNotFound)
	}
	return &w.ID, w.Address, nil
}

// CreatePersonal authorizes a delegate signer to spend from the user's passkey wallet.
func (s *Service) CreatePersonal(ctx context.Context, userID string, req CreateRequest) (*models.AccessKey, error) {
	limits, err := NewLimits(req.SpendingLimits)
	if err != nil {
		return nil, err
	}
	if err := s.validateAuthorization(req.AuthorizationSignature, req.AuthorizationHash, req.Expiry); err != nil {
		return nil, err
	}

	root, err := s.rootWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	keyWalletID, keyAddress, err := s.keyWallet(ctx, userID, req.KeyWalletID)
	if err != nil {
		return nil, err
	}

	label := req.Label
	if label == "" {
		label = "Auto-pay"
	}

	key := &models.AccessKey{
		UserID:                 &userID,
		Network:                s.chain.Network,
		ChainID:                s.chainID(req.ChainID),
		RootWalletID:           &root.ID,
		RootAddress:            root.Address,
		KeyWalletID:            keyWalletID,
		KeyAddress:             keyAddress,
		Limits:                 limits,
		Expiry:                 req.Expiry,
		AuthorizationSignature: req.AuthorizationSignature,
		AuthorizationHash:      req.AuthorizationHash,
		Label:                  label,
		CreatedBy:              userID,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.metrics.KeyCreated("personal")
	log.Info().Str("key_id", key.ID).Str("user_id", userID).Msg("access key created")
	return key, nil
}

// CreateDedicated creates a single-payment key whose allowance is exactly the payment amount.
func (s *Service) CreateDedicated(ctx context.Context, userID string, req DedicatedRequest) (*models.AccessKey, error) {
	limits, err := NewLimits([]SpendingLimit{{Token: req.Token, Amount: req.Amount}})
	if err != nil {
		return nil, err
	}
	if err := s.validateAuthorization(req.AuthorizationSignature, req.AuthorizationHash, req.Expiry); err != nil {
		return nil, err
	}

	root, err := s.rootWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	keyWalletID, keyAddress, err := s.keyWallet(ctx, userID, req.KeyWalletID)
	if err != nil {
		return nil, err
	}

	label := req.Label
	if label == "" {
		label = "Dedicated payment"
	}

	key := &models.AccessKey{
		UserID:                 &userID,
		Network:                s.chain.Network,
		ChainID:                s.chainID(req.ChainID),
		RootWalletID:           &root.ID,
		RootAddress:            root.Address,
		KeyWalletID:            keyWalletID,
		KeyAddress:             keyAddress,
		Limits:                 limits,
		Expiry:                 req.Expiry,
		AuthorizationSignature: req.AuthorizationSignature,
		AuthorizationHash:      req.AuthorizationHash,
		IsDedicated:            true,
		Label:                  label,
		CreatedBy:              userID,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.metrics.KeyCreated("dedicated")
	return key, nil
}

// CreateForOrganization lets a team member's passkey wallet spend from the wallet of the
// organization's owner.
func (s *Service) CreateForOrganization(ctx context.Context, orgID, actorID string, req CreateRequest) (*models.AccessKey, error) {
	limits, err := NewLimits(req.SpendingLimits)
	if err != nil {
		return nil, err
	}
	if err := s.validateAuthorization(req.AuthorizationSignature, req.AuthorizationHash, req.Expiry); err != nil {
		return nil, err
	}
	if req.TeamMemberUserID == "" {
		return nil, fmt.Errorf("team_member_user_id is required: %w", errors.ErrInvalidInput)
	}

	owner, err := s.members.FirstOwner(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, fmt.Errorf("organization has no owner: %w", errors.ErrConflict)
	}
	root, err := s.wallets.GetPasskeyWallet(ctx, owner.UserID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("organization owner has no passkey wallet: %w", errors.ErrInvalidInput)
	}

	teamMember, err := s.members.Get(ctx, orgID, req.TeamMemberUserID)
	if err != nil {
		return nil, err
	}
	if teamMember == nil {
		return nil, fmt.Errorf("team member not found in organization: %w", errors.ErrNotFound)
	}
	keyWallet, err := s.wallets.GetPasskeyWallet(ctx, req.TeamMemberUserID)
	if err != nil {
		return nil, err
	}
	if keyWallet == nil {
		return nil, fmt.Errorf("team member has no passkey wallet: %w", errors.ErrInvalidInput)
	}

	label := req.Label
	if label == "" {
		label = "Team Access"
	}

	key := &models.AccessKey{
		OrganizationID:         &orgID,
		Network:                s.chain.Network,
		ChainID:                s.chainID(req.ChainID),
		RootWalletID:           &root.ID,
		RootAddress:            root.Address,
		KeyWalletID:            &keyWallet.ID,
		KeyAddress:             keyWallet.Address,
		Limits:                 limits,
		Expiry:                 req.Expiry,
		AuthorizationSignature: req.AuthorizationSignature,
		AuthorizationHash:      req.AuthorizationHash,
		Label:                  label,
		CreatedBy:              actorID,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.metrics.KeyCreated("organization")
	s.audit.Log(ctx, orgID, actorID, audit.ActionAccessKeyCreated, "access_key", key.ID, map[string]interface{}{
		"team_member_user_id": req.TeamMemberUserID,
		"label":               label,
	})
	return key, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]*models.AccessKey, error) {
	keys, err := s.keys.ListByUser(ctx, userID, s.chain.Network)
	if keys == nil && err == nil {
		keys = []*models.AccessKey{}
	}
	return keys, err
}

func (s *Service) ListForOrganization(ctx context.Context, orgID string) ([]*models.AccessKey, error) {
	keys, err := s.keys.ListByOrganization(ctx, orgID, s.chain.Network)
	if keys == nil && err == nil {
		keys = []*models.AccessKey{}
	}
	return keys, err
}

func (s *Service) GetForUser(ctx context.Context, keyID, userID string) (*models.AccessKey, error) {
	key, err := s.keys.GetForUser(ctx, keyID, userID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("access key not found: %w", errors.ErrNotFound)
	}
	return key, nil
}

func (s *Service) GetForOrganization(ctx context.Context, keyID, orgID string) (*models.AccessKey, error) {
	key, err := s.keys.GetForOrganization(ctx, keyID, orgID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("access key not found: %w", errors.ErrNotFound)
	}
	return key, nil
}

// Revoke marks the key revoked. The row is kept; revoking twice returns ErrKeyNotActive.
func (s *Service) Revoke(ctx context.Context, keyID, reason string) error {
	ok, err := s.keys.Revoke(ctx, keyID, reason)
	if err != nil {
		return err
	}
	if !ok {
		existing, err := s.keys.GetByID(ctx, keyID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("access key not found: %w", errors.ErrNotFound)
		}
		return ErrKeyNotActive
	}
	s.metrics.KeyRevoked(reason)
	return nil
}

// RevokeForUser revokes a personal key of userID.
func (s *Service) RevokeForUser(ctx context.Context, keyID, userID string) error {
	if _, err := s.GetForUser(ctx, keyID, userID); err != nil {
		return err
	}
	return s.Revoke(ctx, keyID, ReasonRevokedByUser)
}

// RevokeForOrganization revokes an organization key on behalf of actorID.
func (s *Service) RevokeForOrganization(ctx context.Context, keyID, orgID, actorID string) error {
	if _, err := s.GetForOrganization(ctx, keyID, orgID); err != nil {
		return err
	}
	if err := s.Revoke(ctx, keyID, ReasonRevokedByOwner); err != nil {
		return err
	}
	s.audit.Log(ctx, orgID, actorID, audit.ActionAccessKeyRevoked, "access_key", keyID, nil)
	return nil
}

// RecordSpend deducts amount from the key's remaining allowance for token. A dedicated key
// with nothing left is revoked.
func (s *Service) RecordSpend(ctx context.Context, keyID, token, amountStr string) (*models.AccessKey, error) {
	amount, ok := parseAmount(amountStr)
	if !ok || amount.Sign() == 0 {
		return nil, fmt.Errorf("amount must be a positive integer: %w", errors.ErrInvalidInput)
	}

	// the limits update is conditional on the limits we read, so a concurrent spend forces a retry
	for attempt := 0; attempt < 3; attempt++ {
		key, err := s.keys.GetByID(ctx, keyID)
		if err != nil {
			return nil, err
		}
		if key == nil {
			return nil, fmt.Errorf("access key not found: %w", errors.ErrNotFound)
		}
		if !key.IsActive() {
			return nil, ErrKeyNotActive
		}
		if key.IsExpired(s.now().Unix()) {
			return nil, ErrKeyExpired
		}

		current := Limits(key.Limits)
		if err := current.Validate(); err != nil {
			return nil, fmt.Errorf("stored limits for key %s: %w", key.ID, err)
		}
		next, err := current.Spend(token, new(big.Int).Set(amount))
		if err != nil {
			return nil, err
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}
		applied, err := s.keys.UpdateLimits(ctx, key.ID, key.Limits, next)
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}
		key.Limits = next

		if key.IsDedicated && next.Exhausted() {
			if err := s.Revoke(ctx, key.ID, ReasonDedicatedConsumed); err != nil && !stderrors.Is(err, ErrKeyNotActive) {
				return nil, err
			}
			revoked, err := s.keys.GetByID(ctx, key.ID)
			if err != nil {
				return nil, err
			}
			if revoked != nil {
				key = revoked
			}
		}
		return key, nil
	}
	return nil, fmt.Errorf("access key limits changed concurrently: %w", errors.ErrConflict)
}

// ExpireStale revokes every active key whose expiry has passed and returns how many it revoked.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.keys.ListExpired(ctx, now.Unix())
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, key := range expired {
		ok, err := s.keys.Revoke(ctx, key.ID, ReasonExpired)
		if err != nil {
			log.Warn().Err(err).Str("key_id", key.ID).Msg("failed to revoke expired access key")
			continue
		}
		if ok {
			revoked++
			s.metrics.KeyRevoked(ReasonExpired)
		}
	}
	return revoked, nil
}
