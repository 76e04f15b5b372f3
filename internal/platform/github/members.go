package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

const RoleAdmin = "admin"

type OrgMember struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	// Role is "admin" for organization owners and "member" otherwise.
	Role string `json:"role"`
}

// listMembers pages through /orgs/{org}/members filtered by role until a short page.
func (c *Client) listMembers(ctx context.Context, hc *http.Client, org, role string) ([]User, error) {
	var all []User
	for page := 1; ; page++ {
		var batch []User
		path := fmt.Sprintf("/orgs/%s/members?role=%s&per_page=%d&page=%d", url.PathEscape(org), role, perPage, page)
		if err := c.do(ctx, hc, http.MethodGet, path, &batch); err != nil {
			return nil, fmt.Errorf("list %s members of %s: %w", role, org, err)
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// OrgMembers returns every member of org with their role. Admins and the full member list are
// fetched in parallel; any failed page fails the whole call so callers never act on a
// truncated list.
func (c *Client) OrgMembers(ctx context.Context, token, org string) ([]OrgMember, error) {
	hc := c.tokenClient(ctx, token)

	var admins, everyone []User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		admins, err = c.listMembers(gctx, hc, org, "admin")
		return err
	})
	g.Go(func() error {
		var err error
		everyone, err = c.listMembers(gctx, hc, org, "all")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	isAdmin := make(map[int64]bool, len(admins))
	for _, a := range admins {
		isAdmin[a.ID] = true
	}

	seen := make(map[int64]bool, len(everyone))
	members := make([]OrgMember, 0, len(everyone))
	add := func(u User) {
		if seen[u.ID] {
			return
		}
		seen[u.ID] = true
		role := "member"
		if isAdmin[u.ID] {
			role = RoleAdmin
		}
		members = append(members, OrgMember{ID: u.ID, Login: u.Login, Role: role})
	}
	for _, u := range everyone {
		add(u)
	}
	for _, u := range admins {
		add(u)
	}
	return members, nil
}
