package dashboard

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
)

type companyPage struct {
	ID     string // empty for a new company
	Action string
	Form   models.CompanyForm
}

// ListCompanies handles GET /companies.
func (s *Server) ListCompanies(c *gin.Context) {
	b := workspace(c).companiesTable()
	applySort(c, b)
	m := loadTable(c.Request.Context(), s, b)
	if signedOut(c, m.Err) {
		return
	}
	s.render(c, http.StatusOK, "companies.html", page{
		Title:  "Companies",
		Notice: c.Query("notice"),
		Data:   newTablePage(b.ViewOf(m), nil, "/companies"),
	})
}

// NewCompany handles GET /companies/new.
func (s *Server) NewCompany(c *gin.Context) {
	s.render(c, http.StatusOK, "company_form.html", page{Title: "New company", Data: companyPage{Action: "/companies"}})
}

// CreateCompany handles POST /companies.
func (s *Server) CreateCompany(c *gin.Context) {
	ws := workspace(c)
	data := companyPage{Action: "/companies", Form: companyForm(c)}
	in := data.Form.CreateFromForm()
	if err := in.Validate(); err != nil {
		s.render(c, statusOf(err), "company_form.html", page{Title: "New company", Error: messageOf(err), Data: data})
		return
	}
	created, err := ws.Client.CreateCompany(c.Request.Context(), in)
	if signedOut(c, err) {
		return
	}
	if err != nil {
		s.render(c, statusOf(err), "company_form.html", page{Title: "New company", Error: messageOf(err), Data: data})
		return
	}
	s.invalidate(c, realtime.Invalidation{Screen: screens.Companies})
	c.Redirect(http.StatusSeeOther, "/companies?notice="+url.QueryEscape("Created "+created.Name+"."))
}

// EditCompany handles GET /companies/:id.
func (s *Server) EditCompany(c *gin.Context) {
	id := c.Param("id")
	company, err := workspace(c).Client.GetCompany(c.Request.Context(), id)
	if err != nil {
		s.companyFetchFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "company_form.html", page{
		Title: "Edit " + company.Name,
		Data:  companyPage{ID: id, Action: "/companies/" + url.PathEscape(id), Form: models.FormFromCompany(*company)},
	})
}

// UpdateCompany handles POST /companies/:id. Only changed fields are sent.
func (s *Server) UpdateCompany(c *gin.Context) {
	ws := workspace(c)
	id := c.Param("id")
	data := companyPage{ID: id, Action: "/companies/" + url.PathEscape(id), Form: companyForm(c)}

	before, err := ws.Client.GetCompany(c.Request.Context(), id)
	if err != nil {
		s.companyFetchFailed(c, err)
		return
	}
	upd, err := models.DiffCompany(*before, data.Form)
	if err == nil {
		_, err = ws.Client.UpdateCompany(c.Request.Context(), id, upd)
	}
	if signedOut(c, err) {
		return
	}
	if err != nil {
		s.render(c, statusOf(err), "company_form.html", page{Title: "Edit " + before.Name, Error: messageOf(err), Data: data})
		return
	}
	s.invalidate(c, realtime.Invalidation{Screen: screens.Companies})
	c.Redirect(http.StatusSeeOther, "/companies?notice="+url.QueryEscape("Saved "+data.Form.Name+"."))
}

func (s *Server) companyFetchFailed(c *gin.Context, err error) {
	if signedOut(c, err) {
		return
	}
	if errors.Is(err, apiclient.ErrNotFound) {
		s.renderError(c, http.StatusNotFound, "Company not found.")
		return
	}
	s.renderError(c, statusOf(err), messageOf(err))
}

func companyForm(c *gin.Context) models.CompanyForm {
	return models.CompanyForm{
		Name:        c.PostForm("name"),
		PhonePrefix: c.PostForm("phone_prefix"),
		Email:       c.PostForm("email"),
		Phone:       c.PostForm("phone"),
		Web:         c.PostForm("web"),
		Note:        c.PostForm("note"),
		Description: c.PostForm("description"),
	}
}
