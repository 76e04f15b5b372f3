package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"grip/internal/api/middleware"
	"grip/internal/engine/repoclaim"
	"grip/internal/engine/webhooks"
	"grip/internal/pkg/errors"
)

// MaxWebhookBody caps webhook deliveries. GitHub sends payloads of up to 25 MB.
const MaxWebhookBody int64 = 25 << 20

type GitHubHandler struct {
	claims        *repoclaim.Service
	dispatcher    *webhooks.Dispatcher
	webhookSecret string
}

func NewGitHubHandler(claims *repoclaim.Service, webhookSecret string) *GitHubHandler {
	return &GitHubHandler{
		claims:        claims,
		dispatcher:    webhooks.NewDispatcher(claims),
		webhookSecret: webhookSecret,
	}
}

type InstallRequest struct {
	OrganizationID string `json:"organizationId"`
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
}

func (h *GitHubHandler) Install(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req InstallRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	url, err := h.claims.InstallURL(r.Context(), claims.UserID, req.OrganizationID, req.Owner, req.Repo)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to create install URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// ClaimRepo starts a claim for the repository in the path. The body may name an
// organization to claim on behalf of.
func (h *GitHubHandler) ClaimRepo(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	var req InstallRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	url, err := h.claims.InstallURL(r.Context(), claims.UserID, req.OrganizationID, param(r, "owner"), param(r, "repo"))
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to start repository claim")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *GitHubHandler) Callback(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	installationID, err := strconv.ParseInt(r.URL.Query().Get("installation_id"), 10, 64)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "installation_id is required", nil)
		return
	}

	result, err := h.claims.CompleteInstallation(r.Context(), claims.UserID, installationID, r.URL.Query().Get("state"))
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to complete installation")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *GitHubHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodeInvalidInput, "Payload too large", nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read body", nil)
		return
	}
	if !webhooks.Verify(h.webhookSecret, payload, r.Header.Get("X-Hub-Signature-256")) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid signature", nil)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if err := h.dispatcher.Dispatch(r.Context(), event, payload); err != nil {
		log.Error().Err(err).Str("event", event).Str("delivery", r.Header.Get("X-GitHub-Delivery")).Msg("github webhook failed")
		errors.WriteServiceError(w, err, "Failed to process webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
