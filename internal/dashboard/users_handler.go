package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
)

type userPage struct {
	ID        string // empty for a new user
	Action    string
	Form      models.UserForm
	Companies []models.Company
}

// ListUsers handles GET /users.
func (s *Server) ListUsers(c *gin.Context) {
	b := workspace(c).usersTable()
	applySort(c, b)
	m := loadTable(c.Request.Context(), s, b)
	if signedOut(c, m.Err) {
		return
	}
	s.render(c, http.StatusOK, "users.html", page{
		Title:  "Users",
		Notice: c.Query("notice"),
		Data:   newTablePage(b.ViewOf(m), nil, "/users"),
	})
}

// NewUser handles GET /users/new.
func (s *Server) NewUser(c *gin.Context) {
	data := userPage{
		Action:    "/users",
		Form:      models.UserForm{Role: models.RoleCollaborator},
		Companies: s.companyOptions(c.Request.Context(), workspace(c)),
	}
	s.render(c, http.StatusOK, "user_form.html", page{Title: "New user", Data: data})
}

// CreateUser handles POST /users. The password is never echoed back.
func (s *Server) CreateUser(c *gin.Context) {
	ws := workspace(c)
	data := userPage{Action: "/users", Form: userForm(c)}
	in := data.Form.CreateFromForm(c.PostForm("password"))
	err := in.Validate()
	if err == nil {
		_, err = ws.Client.CreateUser(c.Request.Context(), in)
	}
	if signedOut(c, err) {
		return
	}
	if err != nil {
		data.Companies = s.companyOptions(c.Request.Context(), ws)
		s.render(c, statusOf(err), "user_form.html", page{Title: "New user", Error: messageOf(err), Data: data})
		return
	}
	s.invalidate(c, realtime.Invalidation{Screen: screens.Users})
	c.Redirect(http.StatusSeeOther, "/users?notice="+url.QueryEscape("Created "+in.Email+"."))
}

// EditUser handles GET /users/:id.
func (s *Server) EditUser(c *gin.Context) {
	ws := workspace(c)
	id := c.Param("id")
	user, err := ws.Client.GetUser(c.Request.Context(), id)
	if err != nil {
		s.userFetchFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "user_form.html", page{
		Title: "Edit " + user.Email,
		Data: userPage{
			ID:        id,
			Action:    "/users/" + url.PathEscape(id),
			Form:      models.FormFromUser(*user),
			Companies: s.companyOptions(c.Request.Context(), ws),
		},
	})
}

// UpdateUser handles POST /users/:id. Only changed fields are sent.
func (s *Server) UpdateUser(c *gin.Context) {
	ws := workspace(c)
	id := c.Param("id")
	data := userPage{ID: id, Action: "/users/" + url.PathEscape(id), Form: userForm(c)}

	before, err := ws.Client.GetUser(c.Request.Context(), id)
	if err != nil {
		s.userFetchFailed(c, err)
		return
	}
	upd, err := models.DiffUser(*before, data.Form)
	if err == nil {
		_, err = ws.Client.UpdateUser(c.Request.Context(), id, upd)
	}
	if signedOut(c, err) {
		return
	}
	if err != nil {
		data.Companies = s.companyOptions(c.Request.Context(), ws)
		s.render(c, statusOf(err), "user_form.html", page{Title: "Edit " + before.Email, Error: messageOf(err), Data: data})
		return
	}
	s.invalidate(c, realtime.Invalidation{Screen: screens.Users})
	c.Redirect(http.StatusSeeOther, "/users?notice="+url.QueryEscape("Saved "+data.Form.Email+"."))
}

func (s *Server) userFetchFailed(c *gin.Context, err error) {
	if signedOut(c, err) {
		return
	}
	if errors.Is(err, apiclient.ErrNotFound) {
		s.renderError(c, http.StatusNotFound, "User not found.")
		return
	}
	s.renderError(c, statusOf(err), messageOf(err))
}

// companyOptions lists the companies a user can be assigned to. A failed
// load leaves the list empty and the field free-form.
func (s *Server) companyOptions(ctx context.Context, ws *Workspace) []models.Company {
	return loadTable(ctx, s, ws.companiesTable()).Rows
}

func userForm(c *gin.Context) models.UserForm {
	return models.UserForm{
		Email:           strings.TrimSpace(c.PostForm("email")),
		Role:            models.Role(c.PostForm("role")),
		CompanyID:       strings.TrimSpace(c.PostForm("company_id")),
		CardFullName:    c.PostForm("card_full_name"),
		CardEmail:       c.PostForm("card_email"),
		CardMobilePhone: c.PostForm("card_mobile_phone"),
		CardJobTitle:    c.PostForm("card_job_title"),
		CardOfficePhone: c.PostForm("card_office_phone"),
		CardWeb:         c.PostForm("card_web"),
	}
}
