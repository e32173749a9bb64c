package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/collabcards/dashboard/internal/models"
)

// ListCompanies returns the companies visible to the current identity.
func (c *Client) ListCompanies(ctx context.Context) ([]models.Company, error) {
	var list []models.Company
	if err := c.do(ctx, &request{method: http.MethodGet, route: "/companies", path: "/companies"}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetCompany returns one company.
func (c *Client) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	var co models.Company
	err := c.do(ctx, &request{
		method: http.MethodGet,
		route:  "/companies/{id}",
		path:   "/companies/" + url.PathEscape(id),
	}, &co)
	if err != nil {
		return nil, err
	}
	return &co, nil
}

// CreateCompany creates a company.
func (c *Client) CreateCompany(ctx context.Context, in models.CompanyCreate) (*models.Company, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	req, err := jsonRequest(http.MethodPost, "/companies", "/companies", in)
	if err != nil {
		return nil, err
	}
	var co models.Company
	if err := c.do(ctx, req, &co); err != nil {
		return nil, err
	}
	return &co, nil
}

// UpdateCompany patches the fields set in upd.
func (c *Client) UpdateCompany(ctx context.Context, id string, upd models.CompanyUpdate) (*models.Company, error) {
	if upd.Empty() {
		return nil, models.ErrNoChanges
	}
	req, err := jsonRequest(http.MethodPatch, "/companies/{id}", "/companies/"+url.PathEscape(id), upd)
	if err != nil {
		return nil, err
	}
	var co models.Company
	if err := c.do(ctx, req, &co); err != nil {
		return nil, err
	}
	return &co, nil
}
