package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/collabcards/dashboard/internal/models"
)

// Token exchanges credentials for an access token using the password grant
// (form-encoded username/password, not JSON).
func (c *Client) Token(ctx context.Context, email, password string) (*models.Token, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	var tok models.Token
	err := c.do(ctx, &request{
		method:      http.MethodPost,
		route:       "/auth/token",
		path:        "/auth/token",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &tok)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Me returns the profile bound to the attached bearer credential.
func (c *Client) Me(ctx context.Context) (*models.Identity, error) {
	var id models.Identity
	if err := c.do(ctx, &request{method: http.MethodGet, route: "/auth/me", path: "/auth/me"}, &id); err != nil {
		return nil, err
	}
	return &id, nil
}
