package middleware

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "grip/internal/api/context"
	"grip/internal/engine/organizations"
	"grip/internal/engine/permissions"
	"grip/internal/pkg/errors"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

// OrgContext is the organization named by the :org_id route parameter and the caller's
// membership in it (nil for non-members).
type OrgContext struct {
	Org        *models.Organization
	Membership *models.Member
}

func (c *OrgContext) Capabilities() permissions.CapabilitySet {
	if c == nil || c.Membership == nil {
		return permissions.CapabilitySet{}
	}
	return permissions.Capabilities(c.Membership.Role)
}

func OrgFrom(ctx context.Context) *OrgContext {
	oc, _ := ctx.Value(apiContext.Org).(*OrgContext)
	return oc
}

type OrgMiddleware struct {
	orgRepo    *repositories.OrganizationRepository
	memberRepo *repositories.MemberRepository
}

func NewOrgMiddleware(orgRepo *repositories.OrganizationRepository, memberRepo *repositories.MemberRepository) *OrgMiddleware {
	return &OrgMiddleware{orgRepo: orgRepo, memberRepo: memberRepo}
}

func (m *OrgMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims == nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Unauthorized", nil)
			return
		}
		params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)

		org, err := m.orgRepo.GetByID(r.Context(), params.ByName("org_id"))
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load organization", nil)
			return
		}
		if org == nil {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Organization not found", nil)
			return
		}

		membership, err := m.memberRepo.Get(r.Context(), org.ID, claims.UserID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load membership", nil)
			return
		}
		// private organizations do not reveal their existence to outsiders
		if !organizations.CanView(org, membership) {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Organization not found", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Org, &OrgContext{Org: org, Membership: membership})
		next(w, r.WithContext(ctx))
	}
}

// RequireCapability rejects callers whose role in the current organization lacks the
// capability picked by allowed.
func RequireCapability(allowed func(permissions.CapabilitySet) bool) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			oc := OrgFrom(r.Context())
			if oc == nil || oc.Membership == nil {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Not a member of this organization", nil)
				return
			}
			if !allowed(oc.Capabilities()) {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}
			next(w, r)
		}
	}
}
