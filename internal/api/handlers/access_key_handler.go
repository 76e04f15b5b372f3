package handlers

import (
	"net/http"
	"strings"

	"grip/internal/api/middleware"
	"grip/internal/engine/accesskeys"
	"grip/internal/pkg/errors"
)

type AccessKeyHandler struct {
	keys *accesskeys.Service
}

func NewAccessKeyHandler(keys *accesskeys.Service) *AccessKeyHandler {
	return &AccessKeyHandler{keys: keys}
}

// createKeyRequest carries either a personal key (spending_limits) or a dedicated
// single-payment key (token + amount).
type createKeyRequest struct {
	accesskeys.CreateRequest
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`
}

func (h *AccessKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Token != "" || req.Amount != "" {
		key, err := h.keys.CreateDedicated(r.Context(), claims.UserID, accesskeys.DedicatedRequest{
			Token:                  req.Token,
			Amount:                 req.Amount,
			KeyWalletID:            req.KeyWalletID,
			Expiry:                 req.Expiry,
			AuthorizationSignature: req.AuthorizationSignature,
			AuthorizationHash:      req.AuthorizationHash,
			ChainID:                req.ChainID,
			Label:                  req.Label,
		})
		if err != nil {
			errors.WriteServiceError(w, err, "Failed to create access key")
			return
		}
		writeJSON(w, http.StatusCreated, key)
		return
	}

	key, err := h.keys.CreatePersonal(r.Context(), claims.UserID, req.CreateRequest)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to create access key")
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *AccessKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	keys, err := h.keys.ListForUser(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list access keys")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *AccessKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	key, err := h.keys.GetForUser(r.Context(), param(r, "key_id"), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to get access key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *AccessKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	if err := h.keys.RevokeForUser(r.Context(), param(r, "key_id"), claims.UserID); err != nil {
		errors.WriteServiceError(w, err, "Failed to revoke access key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AccessKeyHandler) CreateForOrg(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	var req accesskeys.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := h.keys.CreateForOrganization(r.Context(), oc.Org.ID, claims.UserID, req)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to create access key")
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *AccessKeyHandler) ListForOrg(w http.ResponseWriter, r *http.Request) {
	oc := middleware.OrgFrom(r.Context())

	keys, err := h.keys.ListForOrganization(r.Context(), oc.Org.ID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list access keys")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *AccessKeyHandler) RevokeForOrg(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	oc := middleware.OrgFrom(r.Context())

	if err := h.keys.RevokeForOrganization(r.Context(), param(r, "key_id"), oc.Org.ID, claims.UserID); err != nil {
		errors.WriteServiceError(w, err, "Failed to revoke access key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RecordSpend is called by the payout executor after a transfer signed with the key lands.
func (h *AccessKeyHandler) RecordSpend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Amount string `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Amount) == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "amount is required", nil)
		return
	}

	key, err := h.keys.RecordSpend(r.Context(), param(r, "key_id"), req.Token, req.Amount)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to record spend")
		return
	}
	writeJSON(w, http.StatusOK, key)
}
