package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "grip/internal/api/context"
	"grip/internal/api/handlers"
	"grip/internal/api/middleware"
	"grip/internal/engine/permissions"
	"grip/internal/pkg/errors"
	"grip/internal/platform/metrics"
)

type Dependencies struct {
	HealthHandler    *handlers.HealthHandler
	MetricsHandler   *handlers.MetricsHandler
	AuthHandler      *handlers.AuthHandler
	OrgHandler       *handlers.OrgHandler
	MemberHandler    *handlers.MemberHandler
	AccessKeyHandler *handlers.AccessKeyHandler
	PasskeyHandler   *handlers.PasskeyHandler
	GitHubHandler    *handlers.GitHubHandler
	RepoHandler      *handlers.RepoHandler
	AuthMiddleware   *middleware.AuthMiddleware
	OrgMiddleware    *middleware.OrgMiddleware
	RateLimiter      *middleware.RateLimiter
	Metrics          *metrics.Metrics
	ExecutorToken    string
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not found", nil)
	})

	authMid := deps.AuthMiddleware.Handle
	orgMid := deps.OrgMiddleware.Handle
	read := deps.RateLimiter.Limit(middleware.LimitAPIRead)
	write := deps.RateLimiter.Limit(middleware.LimitAPIWrite)
	githubLimit := deps.RateLimiter.Limit(middleware.LimitGitHub)

	routeWithLimit := func(method, path string, limit int64, handler http.HandlerFunc, mws ...func(http.HandlerFunc) http.HandlerFunc) {
		all := append([]func(http.HandlerFunc) http.HandlerFunc{
			middleware.Observe(method+" "+path, deps.Metrics),
			middleware.LimitBody(limit),
		}, mws...)
		router.Handle(method, path, chain(handler, all...))
	}
	route := func(method, path string, handler http.HandlerFunc, mws ...func(http.HandlerFunc) http.HandlerFunc) {
		routeWithLimit(method, path, middleware.DefaultBodyLimit, handler, mws...)
	}
	manageOrg := middleware.RequireCapability(func(c permissions.CapabilitySet) bool { return c.ManageOrganization })

	// Health and metrics
	route(http.MethodGet, "/health", deps.HealthHandler.Check)
	route(http.MethodGet, "/metrics", deps.MetricsHandler.Export)

	// Authentication
	route(http.MethodGet, "/api/v1/auth/github/login", deps.AuthHandler.GitHubLogin, githubLimit)
	route(http.MethodGet, "/api/v1/auth/github/callback", deps.AuthHandler.GitHubCallback, githubLimit)
	route(http.MethodGet, "/api/v1/me", deps.AuthHandler.Me, authMid, read)

	// Organizations
	route(http.MethodPost, "/api/v1/organizations", deps.OrgHandler.Create, authMid, write)
	route(http.MethodGet, "/api/v1/organizations", deps.OrgHandler.List, authMid, read)
	route(http.MethodGet, "/api/v1/organizations/:org_id", deps.OrgHandler.Get, authMid, read, orgMid)
	route(http.MethodPut, "/api/v1/organizations/:org_id/visibility", deps.OrgHandler.UpdateVisibility, authMid, write, orgMid, manageOrg)
	route(http.MethodPut, "/api/v1/organizations/:org_id/github", deps.OrgHandler.LinkGitHub, authMid, githubLimit, orgMid, manageOrg)
	route(http.MethodGet, "/api/v1/organizations/:org_id/wallet", deps.OrgHandler.Wallet, authMid, read, orgMid)
	route(http.MethodGet, "/api/v1/organizations/:org_id/audit", deps.OrgHandler.Audit, authMid, read, orgMid, manageOrg)
	route(http.MethodGet, "/api/v1/organizations/:org_id/repos", deps.RepoHandler.ListForOrg, authMid, read, orgMid,
		middleware.RequireCapability(func(c permissions.CapabilitySet) bool { return c.ViewOrganization }))
	route(http.MethodPost, "/api/v1/github/sync", deps.OrgHandler.Sync, authMid, githubLimit)

	// Members
	route(http.MethodGet, "/api/v1/organizations/:org_id/members", deps.MemberHandler.List, authMid, read, orgMid)
	route(http.MethodPost, "/api/v1/organizations/:org_id/members", deps.MemberHandler.Add, authMid, write, orgMid)
	route(http.MethodPatch, "/api/v1/organizations/:org_id/members/:member_id", deps.MemberHandler.UpdateRole, authMid, write, orgMid)
	route(http.MethodDelete, "/api/v1/organizations/:org_id/members/:member_id", deps.MemberHandler.Remove, authMid, write, orgMid)

	// Access keys
	manageKeys := middleware.RequireCapability(func(c permissions.CapabilitySet) bool { return c.ManageAccessKeys })
	route(http.MethodGet, "/api/v1/organizations/:org_id/access-keys", deps.AccessKeyHandler.ListForOrg, authMid, read, orgMid, manageKeys)
	route(http.MethodPost, "/api/v1/organizations/:org_id/access-keys", deps.AccessKeyHandler.CreateForOrg, authMid, write, orgMid, manageKeys)
	route(http.MethodDelete, "/api/v1/organizations/:org_id/access-keys/:key_id", deps.AccessKeyHandler.RevokeForOrg, authMid, write, orgMid, manageKeys)
	route(http.MethodGet, "/api/v1/access-keys", deps.AccessKeyHandler.List, authMid, read)
	route(http.MethodPost, "/api/v1/access-keys", deps.AccessKeyHandler.Create, authMid, write)
	route(http.MethodGet, "/api/v1/access-keys/:key_id", deps.AccessKeyHandler.Get, authMid, read)
	route(http.MethodDelete, "/api/v1/access-keys/:key_id", deps.AccessKeyHandler.Revoke, authMid, write)
	route(http.MethodPost, "/api/v1/internal/access-keys/:key_id/spend", deps.AccessKeyHandler.RecordSpend, middleware.ExecutorToken(deps.ExecutorToken))

	// Passkeys and wallets
	route(http.MethodPost, "/api/v1/passkeys/register/begin", deps.PasskeyHandler.BeginRegistration, authMid, write)
	route(http.MethodPost, "/api/v1/passkeys/register/finish", deps.PasskeyHandler.FinishRegistration, authMid, write)
	route(http.MethodGet, "/api/v1/passkeys", deps.PasskeyHandler.List, authMid, read)
	route(http.MethodDelete, "/api/v1/passkeys/:passkey_id", deps.PasskeyHandler.Delete, authMid, write)
	route(http.MethodGet, "/api/v1/wallet", deps.PasskeyHandler.Wallet, authMid, read)
	route(http.MethodGet, "/api/v1/wallet/qr", deps.PasskeyHandler.WalletQR, authMid, read)

	// GitHub App
	route(http.MethodPost, "/api/v1/github/install", deps.GitHubHandler.Install, authMid, githubLimit)
	route(http.MethodGet, "/api/v1/github/callback", deps.GitHubHandler.Callback, authMid, githubLimit)
	routeWithLimit(http.MethodPost, "/api/v1/github/webhook", handlers.MaxWebhookBody, deps.GitHubHandler.Webhook)

	// Repositories
	route(http.MethodGet, "/api/v1/repos", deps.RepoHandler.List, authMid, read)
	route(http.MethodPost, "/api/v1/repos/:owner/:repo/claim", deps.GitHubHandler.ClaimRepo, authMid, githubLimit)
	route(http.MethodGet, "/api/v1/repos/:owner/:repo/settings", deps.RepoHandler.Settings, authMid, read)
	route(http.MethodPatch, "/api/v1/repos/:owner/:repo/settings", deps.RepoHandler.UpdateSettings, authMid, write)
	route(http.MethodPost, "/api/v1/repos/:owner/:repo/transfer", deps.RepoHandler.Transfer, authMid, write)

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
