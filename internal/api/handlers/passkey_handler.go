package handlers

import (
	"encoding/json"
	"net/http"

	"grip/internal/api/middleware"
	"grip/internal/engine/wallets"
	"grip/internal/pkg/errors"
)

type PasskeyHandler struct {
	wallets *wallets.Service
}

func NewPasskeyHandler(svc *wallets.Service) *PasskeyHandler {
	return &PasskeyHandler{wallets: svc}
}

func (h *PasskeyHandler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	opts, err := h.wallets.BeginRegistration(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to start passkey registration")
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

type FinishRegistrationRequest struct {
	SessionID  string          `json:"session_id"`
	Name       string          `json:"name"`
	Credential json.RawMessage `json:"credential"`
}

func (h *PasskeyHandler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req FinishRegistrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	passkey, err := h.wallets.FinishRegistration(r.Context(), claims.UserID, req.SessionID, req.Name, req.Credential)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to register passkey")
		return
	}
	wallet, err := h.wallets.UserWallet(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to load wallet")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"passkey": passkey, "wallet": wallet})
}

func (h *PasskeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	passkeys, err := h.wallets.ListPasskeys(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list passkeys")
		return
	}
	writeJSON(w, http.StatusOK, passkeys)
}

func (h *PasskeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	if err := h.wallets.DeletePasskey(r.Context(), claims.UserID, param(r, "passkey_id")); err != nil {
		errors.WriteServiceError(w, err, "Failed to delete passkey")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Wallet returns the caller's passkey wallet. With ?balance=1 it also reads the on-chain
// balance of ?token (default token when empty).
func (h *PasskeyHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	if r.URL.Query().Get("balance") == "" {
		wallet, err := h.wallets.UserWallet(r.Context(), claims.UserID)
		if err != nil {
			errors.WriteServiceError(w, err, "Failed to get wallet")
			return
		}
		writeJSON(w, http.StatusOK, wallet)
		return
	}

	balance, err := h.wallets.Balance(r.Context(), claims.UserID, r.URL.Query().Get("token"))
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to get balance")
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *PasskeyHandler) WalletQR(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	wallet, err := h.wallets.UserWallet(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to get wallet")
		return
	}

	png, err := wallets.AddressQR(wallet.Address, queryInt(r, "size", 256))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
