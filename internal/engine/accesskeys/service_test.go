package accesskeys

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"grip/internal/pkg/errors"
	"grip/internal/platform/config"
	"grip/internal/platform/database"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
	"grip/migrations"
)

var (
	testSig  = "0x" + strings.Repeat("ab", 65)
	testHash = "0x" + strings.Repeat("cd", 32)
)

const serverWallet = "0x1111111111111111111111111111111111111111"

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	if _, err := database.Migrate(context.Background(), db, migrations.FS); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(db *sql.DB) *Service {
	return NewService(db, config.ChainConfig{Network: "testnet", ChainID: 42429, ServerWalletAddress: serverWallet}, nil, nil)
}

// createUserWithWallet creates a user holding a passkey wallet at address.
func createUserWithWallet(t *testing.T, db *sql.DB, login string, githubID int64, address string) (*models.User, *models.Wallet) {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Login: login, GitHubUserID: &githubID}
	if err := repositories.NewUserRepository(db).UpsertByGitHubID(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if address == "" {
		return user, nil
	}

	wallets := repositories.NewWalletRepository(db)
	pk := &models.Passkey{UserID: user.ID, CredentialID: "cred-" + login, PublicKey: []byte{4}, Credential: "{}"}
	if err := wallets.CreatePasskey(ctx, pk); err != nil {
		t.Fatalf("create passkey: %v", err)
	}
	w := &models.Wallet{UserID: user.ID, PasskeyID: &pk.ID, Address: address, WalletType: models.WalletTypePasskey}
	if err := wallets.CreateWallet(ctx, w); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return user, w
}

func TestCreatePersonal(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	user, wallet := createUserWithWallet(t, db, "alice", 1, "0x2222222222222222222222222222222222222222")

	key, err := svc.CreatePersonal(ctx, user.ID, CreateRequest{
		SpendingLimits:         []SpendingLimit{{Token: tokenA, Amount: "500"}},
		AuthorizationSignature: testSig,
		AuthorizationHash:      testHash,
	})
	if err != nil {
		t.Fatalf("CreatePersonal() error = %v", err)
	}
	if key.RootAddress != wallet.Address || key.KeyAddress != serverWallet {
		t.Errorf("unexpected addresses root=%s key=%s", key.RootAddress, key.KeyAddress)
	}
	if key.Label != "Auto-pay" || key.ChainID != 42429 || key.OrganizationID != nil {
		t.Errorf("unexpected key %+v", key)
	}

	keys, err := svc.ListForUser(ctx, user.ID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("ListForUser() = %d keys, %v", len(keys), err)
	}
}

func TestCreatePersonalValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	withWallet, _ := createUserWithWallet(t, db, "alice", 1, "0x2222222222222222222222222222222222222222")
	noWallet, _ := createUserWithWallet(t, db, "bob", 2, "")
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name   string
		userID string
		req    CreateRequest
	}{
		{"missing wallet", noWallet.ID, CreateRequest{SpendingLimits: []SpendingLimit{{Token: tokenA, Amount: "1"}}, AuthorizationSignature: testSig, AuthorizationHash: testHash}},
		{"bad hash", withWallet.ID, CreateRequest{SpendingLimits: []SpendingLimit{{Token: tokenA, Amount: "1"}}, AuthorizationSignature: testSig, AuthorizationHash: "0x12"}},
		{"bad signature", withWallet.ID, CreateRequest{SpendingLimits: []SpendingLimit{{Token: tokenA, Amount: "1"}}, AuthorizationSignature: "sig", AuthorizationHash: testHash}},
		{"expired", withWallet.ID, CreateRequest{SpendingLimits: []SpendingLimit{{Token: tokenA, Amount: "1"}}, AuthorizationSignature: testSig, AuthorizationHash: testHash, Expiry: &past}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreatePersonal(ctx, tt.userID, tt.req)
			if !stderrors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRevokeTwice(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	user, _ := createUserWithWallet(t, db, "alice", 1, "0x2222222222222222222222222222222222222222")
	key, err := svc.CreatePersonal(ctx, user.ID, CreateRequest{
		SpendingLimits:         []SpendingLimit{{Token: tokenA, Amount: "500"}},
		AuthorizationSignature: testSig,
		AuthorizationHash:      testHash,
	})
	if err != nil {
		t.Fatalf("CreatePersonal() error = %v", err)
	}

	if err := svc.RevokeForUser(ctx, key.ID, user.ID); err != nil {
		t.Fatalf("first revoke error = %v", err)
	}
	err = svc.RevokeForUser(ctx, key.ID, user.ID)
	if !stderrors.Is(err, ErrKeyNotActive) || !stderrors.Is(err, errors.ErrConflict) {
		t.Errorf("expected ErrKeyNotActive, got %v", err)
	}

	if err := svc.Revoke(ctx, "ak_missing", "x"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown key, got %v", err)
	}

	stored, err := svc.GetForUser(ctx, key.ID, user.ID)
	if err != nil {
		t.Fatalf("GetForUser() error = %v", err)
	}
	if stored.Status != models.AccessKeyStatusRevoked || *stored.RevokedReason != ReasonRevokedByUser {
		t.Errorf("unexpected stored key %+v", stored)
	}
}

func TestDedicatedKeyConsumed(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	user, _ := createUserWithWallet(t, db, "alice", 1, "0x2222222222222222222222222222222222222222")
	key, err := svc.CreateDedicated(ctx, user.ID, DedicatedRequest{
		Token:                  tokenA,
		Amount:                 "250",
		AuthorizationSignature: testSig,
		AuthorizationHash:      testHash,
	})
	if err != nil {
		t.Fatalf("CreateDedicated() error = %v", err)
	}
	if !key.IsDedicated {
		t.Fatal("expected dedicated key")
	}

	if _, err := svc.RecordSpend(ctx, key.ID, tokenA, "251"); !stderrors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	spent, err := svc.RecordSpend(ctx, key.ID, tokenA, "250")
	if err != nil {
		t.Fatalf("RecordSpend() error = %v", err)
	}
	if spent.Status != models.AccessKeyStatusRevoked {
		t.Errorf("expected dedicated key to be revoked after full spend, got %s", spent.Status)
	}
	if spent.RevokedAt == nil || spent.RevokedReason == nil || *spent.RevokedReason != ReasonDedicatedConsumed {
		t.Errorf("expected revocation details on consumed key, got %+v", spent)
	}
	if err := Limits(spent.Limits).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	if _, err := svc.RecordSpend(ctx, key.ID, tokenA, "1"); !stderrors.Is(err, ErrKeyNotActive) {
		t.Errorf("expected ErrKeyNotActive after consumption, got %v", err)
	}
}

func TestRecordSpendRejectsCorruptLimits(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	user, _ := createUserWithWallet(t, db, "alice", 1, "0x2222222222222222222222222222222222222222")
	key := &models.AccessKey{
		UserID:      &user.ID,
		Network:     "testnet",
		RootAddress: "0x2222222222222222222222222222222222222222",
		KeyAddress:  "0x3333333333333333333333333333333333333333",
		Limits:      map[string]models.TokenLimit{tokenA: {Initial: "10", Remaining: "50"}},
	}
	if err := repositories.NewAccessKeyRepository(db).Create(ctx, key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.RecordSpend(ctx, key.ID, tokenA, "20"); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for corrupt limits, got %v", err)
	}

	stored, _ := svc.GetForUser(ctx, key.ID, user.ID)
	if stored.Limits[tokenA].Remaining != "50" {
		t.Errorf("corrupt limits must not be spent from, got %+v", stored.Limits)
	}
}

func TestCreateForOrganization(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	owner, ownerWallet := createUserWithWallet(t, db, "owner", 1, "0x3333333333333333333333333333333333333333")
	mate, mateWallet := createUserWithWallet(t, db, "mate", 2, "0x4444444444444444444444444444444444444444")
	outsider, _ := createUserWithWallet(t, db, "outsider", 3, "0x5555555555555555555555555555555555555555")

	org := &models.Organization{Slug: "acme", Name: "Acme"}
	if err := repositories.NewOrganizationRepository(db).Create(ctx, org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	members := repositories.NewMemberRepository(db)
	members.Create(ctx, &models.Member{OrganizationID: org.ID, UserID: owner.ID, Role: models.RoleOwner})
	members.Create(ctx, &models.Member{OrganizationID: org.ID, UserID: mate.ID, Role: models.RoleBountyManager})

	req := CreateRequest{
		TeamMemberUserID:       mate.ID,
		SpendingLimits:         []SpendingLimit{{Token: tokenA, Amount: "10"}},
		AuthorizationSignature: testSig,
		AuthorizationHash:      testHash,
	}
	key, err := svc.CreateForOrganization(ctx, org.ID, owner.ID, req)
	if err != nil {
		t.Fatalf("CreateForOrganization() error = %v", err)
	}
	if key.RootAddress != ownerWallet.Address || key.KeyAddress != mateWallet.Address {
		t.Errorf("unexpected addresses %s -> %s", key.RootAddress, key.KeyAddress)
	}
	if key.UserID != nil || key.OrganizationID == nil || key.Label != "Team Access" {
		t.Errorf("unexpected key %+v", key)
	}

	req.TeamMemberUserID = outsider.ID
	if _, err := svc.CreateForOrganization(ctx, org.ID, owner.ID, req); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for non-member, got %v", err)
	}

	if err := svc.RevokeForOrganization(ctx, key.ID, "org_other", owner.ID); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("key must not be revocable through another organization, got %v", err)
	}
	if err := svc.RevokeForOrganization(ctx, key.ID, org.ID, owner.ID); err != nil {
		t.Errorf("RevokeForOrganization() error = %v", err)
	}
}

func TestExpireStale(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	user, _ := createUserWithWallet(t, db, "alice", 1, "0x2222222222222222222222222222222222222222")
	soon := time.Now().Add(time.Minute).Unix()
	key, err := svc.CreatePersonal(ctx, user.ID, CreateRequest{
		SpendingLimits:         []SpendingLimit{{Token: tokenA, Amount: "5"}},
		AuthorizationSignature: testSig,
		AuthorizationHash:      testHash,
		Expiry:                 &soon,
	})
	if err != nil {
		t.Fatalf("CreatePersonal() error = %v", err)
	}

	n, err := svc.ExpireStale(ctx, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing to expire yet, got %d, %v", n, err)
	}

	n, err = svc.ExpireStale(ctx, time.Now().Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ExpireStale() = %d, %v", n, err)
	}

	stored, _ := svc.GetForUser(ctx, key.ID, user.ID)
	if stored.Status != models.AccessKeyStatusRevoked || *stored.RevokedReason != ReasonExpired {
		t.Errorf("unexpected key after expiry %+v", stored)
	}
}
