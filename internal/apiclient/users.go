package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/collabcards/dashboard/internal/models"
)

// ListUsers returns the users the backend allows the current identity to see.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var list []models.User
	if err := c.do(ctx, &request{method: http.MethodGet, route: "/users", path: "/users"}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetUser returns one user.
func (c *Client) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := c.do(ctx, &request{
		method: http.MethodGet,
		route:  "/users/{id}",
		path:   "/users/" + url.PathEscape(id),
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, in models.UserCreate) (*models.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	req, err := jsonRequest(http.MethodPost, "/users", "/users", in)
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := c.do(ctx, req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser patches the fields set in upd.
func (c *Client) UpdateUser(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	if upd.Empty() {
		return nil, models.ErrNoChanges
	}
	req, err := jsonRequest(http.MethodPatch, "/users/{id}", "/users/"+url.PathEscape(id), upd)
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := c.do(ctx, req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
