package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"grip/internal/api/middleware"
	"grip/internal/engine/organizations"
	"grip/internal/pkg/errors"
	"grip/internal/platform/auth"
	"grip/internal/platform/github"
	"grip/internal/platform/models"
	"grip/internal/platform/repositories"
)

const oauthStateCookie = "grip_oauth_state"

// OAuthProvider is satisfied by *oauth2.Config.
type OAuthProvider interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

type GitHubUsers interface {
	AuthenticatedUser(ctx context.Context, token string) (*github.User, error)
}

type AuthHandler struct {
	db       *sql.DB
	users    *repositories.UserRepository
	accounts *repositories.AccountRepository
	orgs     *organizations.Service
	tokenSvc *auth.TokenService
	oauth    OAuthProvider
	github   GitHubUsers
}

func NewAuthHandler(db *sql.DB, orgs *organizations.Service, tokenSvc *auth.TokenService, oauth OAuthProvider, gh GitHubUsers) *AuthHandler {
	return &AuthHandler{
		db:       db,
		users:    repositories.NewUserRepository(db),
		accounts: repositories.NewAccountRepository(db),
		orgs:     orgs,
		tokenSvc: tokenSvc,
		oauth:    oauth,
		github:   gh,
	}
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// GitHubLogin redirects to GitHub's consent page with a state bound to a short-lived cookie.
func (h *AuthHandler) GitHubLogin(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to start login", nil)
		return
	}
	state := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/v1/auth/github",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// GitHubCallback exchanges the code, upserts the user with their GitHub account and issues a
// session token.
func (h *AuthHandler) GitHubCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid OAuth state", nil)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing authorization code", nil)
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("github oauth exchange failed")
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "GitHub authorization failed", nil)
		return
	}
	ghUser, err := h.github.AuthenticatedUser(r.Context(), token.AccessToken)
	if err != nil {
		errors.WriteServiceError(w, fmt.Errorf("failed to load GitHub profile: %w", err), "Failed to load GitHub profile")
		return
	}

	githubID := ghUser.ID
	user := &models.User{Login: ghUser.Login, Name: ghUser.Name, Email: ghUser.Email, GitHubUserID: &githubID}
	scope, _ := token.Extra("scope").(string)

	err = repositories.RunInTx(r.Context(), h.db, func(tx *sql.Tx) error {
		if err := h.users.WithTx(tx).UpsertByGitHubID(r.Context(), user); err != nil {
			return err
		}
		return h.accounts.WithTx(tx).Upsert(r.Context(), &models.Account{
			UserID:      user.ID,
			Provider:    "github",
			AccountID:   strconv.FormatInt(githubID, 10),
			AccessToken: token.AccessToken,
			Scope:       scope,
		})
	})
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to save user")
		return
	}

	accessToken, err := h.tokenSvc.GenerateAccessToken(user.ID, user.Login)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/v1/auth/github", MaxAge: -1})
	log.Info().Str("user_id", user.ID).Str("login", user.Login).Msg("user signed in")
	writeJSON(w, http.StatusOK, LoginResponse{Token: accessToken, User: user})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Unauthorized", nil)
		return
	}
	orgs, err := h.orgs.ListForUser(r.Context(), user.ID)
	if err != nil {
		errors.WriteServiceError(w, err, "Failed to list organizations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":          user,
		"organizations": orgs,
	})
}
