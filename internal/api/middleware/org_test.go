package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/julienschmidt/httprouter"
	apiContext "grip/internal/api/context"
	"grip/internal/engine/permissions"
	"grip/internal/platform/auth"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

var orgRowColumns = []string{"id", "slug", "name", "logo", "visibility", "github_org_login", "github_org_id",
	"github_sync_enabled", "last_synced_at", "created_at", "updated_at"}

var memberRowColumns = []string{"id", "organization_id", "user_id", "role", "source", "created_at"}

func orgRequest(orgID, userID string) *http.Request {
	req, _ := http.NewRequest("GET", "/", nil)
	ctx := context.WithValue(req.Context(), apiContext.Claims, &auth.Claims{UserID: userID})
	ctx = context.WithValue(ctx, apiContext.Params, httprouter.Params{{Key: "org_id", Value: orgID}})
	return req.WithContext(ctx)
}

func TestOrgMiddleware(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	middleware := NewOrgMiddleware(repositories.NewOrganizationRepository(db), repositories.NewMemberRepository(db))

	t.Run("Member of private org", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = ?").
			WithArgs("org_123").
			WillReturnRows(sqlmock.NewRows(orgRowColumns).
				AddRow("org_123", "acme", "Acme", "", "private", nil, nil, false, nil, 1234567890, 1234567890))
		mock.ExpectQuery("SELECT (.+) FROM members WHERE organization_id = \\? AND user_id = \\?").
			WithArgs("org_123", "usr_1").
			WillReturnRows(sqlmock.NewRows(memberRowColumns).
				AddRow("mem_1", "org_123", "usr_1", "owner", "manual", 1234567890))

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			oc := OrgFrom(r.Context())
			if oc.Org.ID != "org_123" {
				t.Errorf("Expected OrgID org_123, got %s", oc.Org.ID)
			}
			if !oc.Capabilities().ManageOrganization {
				t.Error("Expected owner capabilities")
			}
			w.WriteHeader(http.StatusOK)
		})
		handler.ServeHTTP(rr, orgRequest("org_123", "usr_1"))

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Outsider of private org", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = ?").
			WithArgs("org_123").
			WillReturnRows(sqlmock.NewRows(orgRowColumns).
				AddRow("org_123", "acme", "Acme", "", "private", nil, nil, false, nil, 1234567890, 1234567890))
		mock.ExpectQuery("SELECT (.+) FROM members").
			WithArgs("org_123", "usr_2").
			WillReturnRows(sqlmock.NewRows(memberRowColumns))

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, orgRequest("org_123", "usr_2"))

		if rr.Code != http.StatusNotFound {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
		}
	})

	t.Run("Unknown org", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = ?").
			WithArgs("org_999").
			WillReturnRows(sqlmock.NewRows(orgRowColumns))

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, orgRequest("org_999", "usr_1"))

		if rr.Code != http.StatusNotFound {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func memberWithRole(role string) *models.Member {
	return &models.Member{ID: "mem_1", Role: role}
}

func TestRequireCapability(t *testing.T) {
	manage := RequireCapability(func(c permissions.CapabilitySet) bool { return c.ManageOrganization })

	tests := []struct {
		name string
		oc   *OrgContext
		want int
	}{
		{"no org context", nil, http.StatusForbidden},
		{"non-member", &OrgContext{}, http.StatusForbidden},
		{"bountyManager", &OrgContext{Membership: memberWithRole("bountyManager")}, http.StatusForbidden},
		{"owner", &OrgContext{Membership: memberWithRole("owner")}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("PUT", "/", nil)
			if tt.oc != nil {
				req = req.WithContext(context.WithValue(req.Context(), apiContext.Org, tt.oc))
			}
			rr := httptest.NewRecorder()
			manage(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })(rr, req)
			if rr.Code != tt.want {
				t.Errorf("got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
