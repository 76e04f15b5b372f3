package organizations

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"

	"grip/internal/pkg/errors"
	"grip/internal/platform/database"
	"grip/internal/platform/github"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
	"grip/migrations"
)

type fakeGitHub struct {
	membership *github.Membership
	err        error
}

func (f *fakeGitHub) OrgMembership(ctx context.Context, token, org string) (*github.Membership, error) {
	return f.membership, f.err
}

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

func createUser(t *testing.T, db *sql.DB, login string, githubID int64) *models.User {
	t.Helper()
	u := &models.User{Login: login, GitHubUserID: &githubID}
	if err := repositories.NewUserRepository(db).UpsertByGitHubID(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// fixture is an organization owned by owner with one member of each other role.
type fixture struct {
	svc                           *Service
	db                            *sql.DB
	org                           *models.Organization
	owner, billing, manager, user *models.User
	members                       map[string]*models.Member
}

func newFixture(t *testing.T, gh GitHubClient) *fixture {
	t.Helper()
	db := setupTestDB(t)
	svc := NewService(db, gh, nil)
	ctx := context.Background()

	f := &fixture{svc: svc, db: db, members: map[string]*models.Member{}}
	f.owner = createUser(t, db, "owner", 1)
	f.billing = createUser(t, db, "billing", 2)
	f.manager = createUser(t, db, "manager", 3)
	f.user = createUser(t, db, "plain", 4)

	org, err := svc.Create(ctx, f.owner.ID, "Acme Corp", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.org = org

	memberRepo := repositories.NewMemberRepository(db)
	for u, role := range map[*models.User]string{f.billing: models.RoleBillingAdmin, f.manager: models.RoleBountyManager, f.user: models.RoleMember} {
		m := &models.Member{OrganizationID: org.ID, UserID: u.ID, Role: role}
		if err := memberRepo.Create(ctx, m); err != nil {
			t.Fatalf("create member: %v", err)
		}
		f.members[role] = m
	}
	owner, _ := memberRepo.Get(ctx, org.ID, f.owner.ID)
	f.members[models.RoleOwner] = owner
	return f
}

func TestCreate(t *testing.T) {
	f := newFixture(t, nil)

	if f.org.Slug != "acme-corp" || f.org.Visibility != models.VisibilityPublic {
		t.Errorf("unexpected org %+v", f.org)
	}
	if f.members[models.RoleOwner] == nil {
		t.Fatal("creator must become owner")
	}

	_, err := f.svc.Create(context.Background(), f.user.ID, "Other", "acme-corp")
	if !stderrors.Is(err, errors.ErrConflict) {
		t.Errorf("expected slug conflict, got %v", err)
	}
	_, err = f.svc.Create(context.Background(), f.user.ID, "Bad", "Not A Slug")
	if !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected invalid slug, got %v", err)
	}
}

func TestUpdateVisibility(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, u := range []*models.User{f.billing, f.manager, f.user} {
		if _, err := f.svc.UpdateVisibility(ctx, f.org.ID, u.ID, models.VisibilityPrivate); !stderrors.Is(err, errors.ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", u.Login, err)
		}
		// a bad value must not tell non-owners more than a good one does
		if _, err := f.svc.UpdateVisibility(ctx, f.org.ID, u.ID, "hidden"); !stderrors.Is(err, errors.ErrForbidden) {
			t.Errorf("%s with invalid visibility: expected ErrForbidden, got %v", u.Login, err)
		}
	}

	if _, err := f.svc.UpdateVisibility(ctx, f.org.ID, f.owner.ID, "hidden"); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	org, err := f.svc.UpdateVisibility(ctx, f.org.ID, f.owner.ID, models.VisibilityMembersOnly)
	if err != nil {
		t.Fatalf("UpdateVisibility() error = %v", err)
	}
	if org.Visibility != models.VisibilityMembersOnly {
		t.Errorf("visibility = %s", org.Visibility)
	}
}

func TestVisibilityRules(t *testing.T) {
	member := &models.Member{Role: models.RoleMember}
	tests := []struct {
		visibility  string
		member      *models.Member
		view        bool
		viewMembers bool
	}{
		{models.VisibilityPublic, nil, true, true},
		{models.VisibilityMembersOnly, nil, true, false},
		{models.VisibilityPrivate, nil, false, false},
		{models.VisibilityPrivate, member, true, true},
	}
	for _, tt := range tests {
		org := &models.Organization{Visibility: tt.visibility}
		if got := CanView(org, tt.member); got != tt.view {
			t.Errorf("CanView(%s, member=%v) = %v", tt.visibility, tt.member != nil, got)
		}
		if got := CanViewMembers(org, tt.member); got != tt.viewMembers {
			t.Errorf("CanViewMembers(%s, member=%v) = %v", tt.visibility, tt.member != nil, got)
		}
	}
}

func TestMemberManagement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	newcomer := createUser(t, f.db, "newcomer", 10)

	if _, err := f.svc.AddMember(ctx, f.org.ID, f.manager.ID, AddMemberRequest{Login: "newcomer", Role: models.RoleOwner}); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("bountyManager must not add owners, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, f.org.ID, f.billing.ID, AddMemberRequest{Login: "newcomer", Role: models.RoleMember}); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("billingAdmin must not add members, got %v", err)
	}

	m, err := f.svc.AddMember(ctx, f.org.ID, f.manager.ID, AddMemberRequest{Login: "NewComer", Role: models.RoleMember})
	if err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if m.UserID != newcomer.ID || m.Source != models.MemberSourceManual {
		t.Errorf("unexpected member %+v", m)
	}
	if _, err := f.svc.AddMember(ctx, f.org.ID, f.owner.ID, AddMemberRequest{UserID: newcomer.ID, Role: models.RoleMember}); !stderrors.Is(err, errors.ErrConflict) {
		t.Errorf("expected duplicate conflict, got %v", err)
	}

	if _, err := f.svc.UpdateRole(ctx, f.org.ID, f.manager.ID, f.members[models.RoleBillingAdmin].ID, models.RoleMember); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("bountyManager must not demote billingAdmin, got %v", err)
	}
	updated, err := f.svc.UpdateRole(ctx, f.org.ID, f.manager.ID, m.ID, models.RoleBountyManager)
	if err != nil || updated.Role != models.RoleBountyManager {
		t.Fatalf("UpdateRole() = %+v, %v", updated, err)
	}

	if err := f.svc.RemoveMember(ctx, f.org.ID, f.user.ID, f.members[models.RoleBountyManager].ID); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("member must not remove others, got %v", err)
	}
	if err := f.svc.RemoveMember(ctx, f.org.ID, f.user.ID, f.members[models.RoleMember].ID); err != nil {
		t.Errorf("members may leave, got %v", err)
	}

	list, err := f.svc.ListMembers(ctx, f.org.ID, f.owner.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(list) != 4 {
		t.Errorf("expected 4 members, got %d", len(list))
	}
}

func TestLastOwnerProtected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ownerMember := f.members[models.RoleOwner]

	if _, err := f.svc.UpdateRole(ctx, f.org.ID, f.owner.ID, ownerMember.ID, models.RoleMember); !stderrors.Is(err, errors.ErrConflict) {
		t.Errorf("expected last owner demotion to conflict, got %v", err)
	}
	if err := f.svc.RemoveMember(ctx, f.org.ID, f.owner.ID, ownerMember.ID); !stderrors.Is(err, errors.ErrConflict) {
		t.Errorf("expected last owner removal to conflict, got %v", err)
	}

	if _, err := f.svc.UpdateRole(ctx, f.org.ID, f.owner.ID, f.members[models.RoleBillingAdmin].ID, models.RoleOwner); err != nil {
		t.Fatalf("promote second owner: %v", err)
	}
	if err := f.svc.RemoveMember(ctx, f.org.ID, f.owner.ID, ownerMember.ID); err != nil {
		t.Errorf("owner should leave once another owner exists, got %v", err)
	}
}

func TestListMembersPrivate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	outsider := createUser(t, f.db, "outsider", 20)

	if _, err := f.svc.UpdateVisibility(ctx, f.org.ID, f.owner.ID, models.VisibilityMembersOnly); err != nil {
		t.Fatalf("UpdateVisibility() error = %v", err)
	}
	if _, err := f.svc.ListMembers(ctx, f.org.ID, outsider.ID); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := f.svc.ListMembers(ctx, f.org.ID, f.user.ID); err != nil {
		t.Errorf("members should list members, got %v", err)
	}
}

func TestLinkGitHub(t *testing.T) {
	gh := &fakeGitHub{}
	f := newFixture(t, gh)
	ctx := context.Background()

	if _, err := f.svc.LinkGitHub(ctx, f.org.ID, f.owner.ID, "acme", true); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected missing GitHub account error, got %v", err)
	}

	accounts := repositories.NewAccountRepository(f.db)
	accounts.Upsert(ctx, &models.Account{UserID: f.owner.ID, Provider: "github", AccountID: "1", AccessToken: "gho_owner"})

	gh.membership = &github.Membership{State: "active", Role: "member"}
	if _, err := f.svc.LinkGitHub(ctx, f.org.ID, f.owner.ID, "acme", true); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("expected non-admin to be rejected, got %v", err)
	}

	gh.membership = &github.Membership{State: "active", Role: "admin"}
	gh.membership.Organization.ID = 555
	gh.membership.Organization.Login = "Acme"
	org, err := f.svc.LinkGitHub(ctx, f.org.ID, f.owner.ID, "acme", true)
	if err != nil {
		t.Fatalf("LinkGitHub() error = %v", err)
	}
	if org.GitHubOrgLogin == nil || *org.GitHubOrgLogin != "Acme" || !org.GitHubSyncEnabled || *org.GitHubOrgID != 555 {
		t.Errorf("unexpected linked org %+v", org)
	}

	if _, err := f.svc.LinkGitHub(ctx, f.org.ID, f.manager.ID, "acme", true); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("non-owner must not link, got %v", err)
	}
}

func TestWalletAddress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.WalletAddress(ctx, f.org.ID, f.user.ID); !stderrors.Is(err, errors.ErrForbidden) {
		t.Errorf("plain members must not see the wallet, got %v", err)
	}
	if _, err := f.svc.WalletAddress(ctx, f.org.ID, f.billing.ID); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound before owner has a wallet, got %v", err)
	}

	wallets := repositories.NewWalletRepository(f.db)
	pk := &models.Passkey{UserID: f.owner.ID, CredentialID: "c1", PublicKey: []byte{4}, Credential: "{}"}
	wallets.CreatePasskey(ctx, pk)
	wallets.CreateWallet(ctx, &models.Wallet{UserID: f.owner.ID, PasskeyID: &pk.ID, Address: "0xabc", WalletType: models.WalletTypePasskey})

	addr, err := f.svc.WalletAddress(ctx, f.org.ID, f.billing.ID)
	if err != nil || addr != "0xabc" {
		t.Errorf("WalletAddress() = %q, %v", addr, err)
	}
}
