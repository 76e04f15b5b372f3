// Package github is a small GitHub REST client covering the calls GRIP makes: the signed-in
// user, org memberships, repositories and GitHub App installations.
package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	githubOAuth "golang.org/x/oauth2/github"
	"grip/internal/platform/auth"
	"grip/internal/platform/config"
)

const perPage = 100

// Scopes requested at login; read:org lets membership sync see private org members.
var Scopes = []string{"read:user", "user:email", "read:org"}

// OAuthConfig returns the login configuration for the GitHub OAuth App.
func OAuthConfig(cfg config.GitHubConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     githubOAuth.Endpoint,
	}
}

// APIError is a non-2xx GitHub response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %d %s", e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Membership struct {
	State        string `json:"state"`
	Role         string `json:"role"`
	Organization struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	} `json:"organization"`
}

type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        config.GitHubConfig
	appKey     *rsa.PrivateKey
}

// NewClient builds a client against cfg.APIURL. The App private key is optional; without it
// installation calls fail.
func NewClient(cfg config.GitHubConfig) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.github.com"
	}

	if cfg.AppPrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.AppPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read github app key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse github app key: %w", err)
		}
		c.appKey = key
	}
	return c, nil
}

// WithAppKey sets the App signing key directly.
func (c *Client) WithAppKey(key *rsa.PrivateKey) *Client {
	c.appKey = key
	return c
}

// tokenClient returns an HTTP client that authenticates every request with token.
func (c *Client) tokenClient(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	if token == "" {
		return c.httpClient
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &body) != nil || body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: body.Message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AuthenticatedUser returns the owner of token.
func (c *Client) AuthenticatedUser(ctx context.Context, token string) (*User, error) {
	var u User
	if err := c.do(ctx, c.tokenClient(ctx, token), http.MethodGet, "/user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// OrgMembership returns the token owner's membership in org.
func (c *Client) OrgMembership(ctx context.Context, token, org string) (*Membership, error) {
	var m Membership
	path := "/user/memberships/orgs/" + url.PathEscape(org)
	if err := c.do(ctx, c.tokenClient(ctx, token), http.MethodGet, path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Repository looks a repository up with the server token, when configured.
func (c *Client) Repository(ctx context.Context, owner, repo string) (*Repository, error) {
	var r Repository
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
	if err := c.do(ctx, c.tokenClient(ctx, c.cfg.ServerToken), http.MethodGet, path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// InstallURL is where a user installs the App; state comes back on the setup callback.
func (c *Client) InstallURL(state string) string {
	return fmt.Sprintf("https://github.com/apps/%s/installations/new?state=%s", c.cfg.AppSlug, url.QueryEscape(state))
}

// InstallationToken exchanges an App JWT for a token scoped to the installation.
func (c *Client) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if c.appKey == nil {
		return "", fmt.Errorf("github app private key is not configured")
	}
	appJWT, err := auth.GenerateAppToken(c.cfg.AppID, c.appKey, time.Now())
	if err != nil {
		return "", err
	}

	var out struct {
		Token string `json:"token"`
	}
	path := fmt.Sprintf("/app/installations/%d/access_tokens", installationID)
	if err := c.do(ctx, c.tokenClient(ctx, appJWT), http.MethodPost, path, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// InstallationRepositories lists every repository the installation can access.
func (c *Client) InstallationRepositories(ctx context.Context, installationToken string) ([]Repository, error) {
	hc := c.tokenClient(ctx, installationToken)

	var all []Repository
	for page := 1; ; page++ {
		var out struct {
			Repositories []Repository `json:"repositories"`
		}
		path := fmt.Sprintf("/installation/repositories?per_page=%d&page=%d", perPage, page)
		if err := c.do(ctx, hc, http.MethodGet, path, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Repositories...)
		if len(out.Repositories) < perPage {
			return all, nil
		}
	}
}
