package handlers

import (
	"net/http"

	"grip/internal/api/middleware"
	"grip/internal/engine/organizations"
	"grip/internal/pkg/errors"
)

type MemberHandler struct {
	orgs *organizations.Service
}

func NewMemberHandler(orgs *organizations.Service) *MemberHandler {
	return &MemberHandler{orgs: orgs}
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	members, err := h.orgs.ListMembers(r.Context(), oc.Org.ID, claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list members")
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *MemberHandler) Add(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	var req organizations.AddMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	member, err := h.orgs.AddMember(r.Context(), oc.Org.ID, claims.UserID, req)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to add member")
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *MemberHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	var req struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	member, err := h.orgs.UpdateRole(r.Context(), oc.Org.ID, claims.UserID, param(r, "member_id"), req.Role)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to update member")
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *MemberHandler) Remove(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	if err := h.orgs.RemoveMember(r.Context(), oc.Org.ID, claims.UserID, param(r, "member_id")); err != nil {
		errors.WriteServiceError(w, err, "Failed to remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
