package handlers

import (
	"net/http"

	"grip/internal/api/middleware"
	"grip/internal/engine/repoclaim"
	"grip/internal/pkg/errors"
)

type RepoHandler struct {
	claims *repoclaim.Service
}

func NewRepoHandler(claims *repoclaim.Service) *RepoHandler {
	return &RepoHandler{claims: claims}
}

// List returns the repositories the caller owns personally.
func (h *RepoHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	repos, err := h.claims.ListForUser(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list repositories")
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *RepoHandler) ListForOrg(w http.ResponseWriter, r *http.Request) {
	oc := middleware.OrgFrom(r.Context())

	repos, err := h.claims.ListForOrganization(r.Context(), oc.Org.ID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list organization repositories")
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *RepoHandler) Settings(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	rs, err := h.claims.Settings(r.Context(), claims.UserID, param(r, "owner"), param(r, "repo"))
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to get repository settings")
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *RepoHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req repoclaim.SettingsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	rs, err := h.claims.UpdateSettings(r.Context(), claims.UserID, param(r, "owner"), param(r, "repo"), req)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to update repository settings")
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

type TransferRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

func (h *RepoHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rs, err := h.claims.Transfer(r.Context(), claims.UserID, param(r, "owner"), param(r, "repo"), req.TargetType, req.TargetID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to transfer repository")
		return
	}
	writeJSON(w, http.StatusOK, rs)
}
