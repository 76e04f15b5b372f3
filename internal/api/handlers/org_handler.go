package handlers

import (
	"context"
	"math/big"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"grip/internal/api/middleware"
	"grip/internal/engine/githubsync"
	"grip/internal/engine/organizations"
	"grip/internal/engine/permissions"
	"grip/internal/pkg/errors"
	"grip/internal/platform/audit"
)

type BalanceReader interface {
	Balance(ctx context.Context, owner, token string) (*big.Int, error)
}

type OrgHandler struct {
	orgs    *organizations.Service
	syncer  *githubsync.Syncer
	audit   *audit.Logger
	chain   BalanceReader
	network string
}

func NewOrgHandler(orgs *organizations.Service, syncer *githubsync.Syncer, auditLogger *audit.Logger, chain BalanceReader, network string) *OrgHandler {
	return &OrgHandler{orgs: orgs, syncer: syncer, audit: auditLogger, chain: chain, network: network}
}

type CreateOrgRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *OrgHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req CreateOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.orgs.Create(r.Context(), claims.UserID, req.Name, req.Slug)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to create organization")
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (h *OrgHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	orgs, err := h.orgs.ListForUser(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list organizations")
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (h *OrgHandler) Get(w http.ResponseWriter, r *http.Request) {
	oc := middleware.OrgFrom(r.Context())

	var role string
	if oc.Membership != nil {
		role = oc.Membership.Role
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization": oc.Org,
		"role":         role,
		"capabilities": oc.Capabilities(),
	})
}

func (h *OrgHandler) UpdateVisibility(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	var req struct {
		Visibility string `json:"visibility"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.orgs.UpdateVisibility(r.Context(), oc.Org.ID, claims.UserID, req.Visibility)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to update visibility")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "visibility": org.Visibility})
}

func (h *OrgHandler) LinkGitHub(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	var req struct {
		Login       string `json:"login"`
		SyncEnabled bool   `json:"sync_enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.orgs.LinkGitHub(r.Context(), oc.Org.ID, claims.UserID, req.Login, req.SyncEnabled)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to link GitHub organization")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// Wallet returns the treasury address and, when the chain is reachable, its balance of the
// default token.
func (h *OrgHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	address, err := h.orgs.WalletAddress(r.Context(), oc.Org.ID, claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to get wallet")
		return
	}

	resp := map[string]interface{}{"address": address, "network": h.network}
	if h.chain != nil {
		balance, err := h.chain.Balance(r.Context(), address, "")
		if err != nil {
			log.Warn().Err(err).Str("org_id", oc.Org.ID).Msg("failed to read organization balance")
		} else {
			resp["balance"] = balance.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sync triggers a GitHub membership sync for the organization named in the body with the
// caller's GitHub token.
func (h *OrgHandler) Sync(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req struct {
		OrganizationID string `json:"organizationId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "organizationId is required", nil)
		return
	}

	membership, err := h.orgs.Membership(r.Context(), req.OrganizationID, claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to load membership")
		return
	}
	if membership == nil || !permissions.Capabilities(membership.Role).ManageOrganization {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions. Only organization owners can sync.", nil)
		return
	}

	result, err := h.syncer.SyncForUser(r.Context(), req.OrganizationID, claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to sync members")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"added":   result.Added,
		"removed": result.Removed,
		"errors":  result.Errors,
	})
}

func (h *OrgHandler) Audit(w http.ResponseWriter, r *http.Request) {
	oc := middleware.OrgFrom(r.Context())

	logs, err := h.audit.List(r.Context(), oc.Org.ID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
