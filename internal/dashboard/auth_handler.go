package dashboard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/session"
)

type loginForm struct {
	Email string
	Next  string
}

// LoginForm handles GET /login. Signed-in users go straight to next.
func (s *Server) LoginForm(c *gin.Context) {
	ws := workspace(c)
	next := safeNext(c.Query("next"))
	if ws.Session.State() == session.StateAuthenticated {
		c.Redirect(http.StatusSeeOther, next)
		return
	}
	s.render(c, http.StatusOK, "login.html", page{Title: "Sign in", Data: loginForm{Next: next}})
}

// Login handles POST /login. A rejected login re-renders the form with the
// email kept and is never retried.
func (s *Server) Login(c *gin.Context) {
	ws := workspace(c)
	form := loginForm{
		Email: strings.TrimSpace(c.PostForm("email")),
		Next:  safeNext(c.PostForm("next")),
	}
	password := c.PostForm("password")
	if form.Email == "" || password == "" {
		s.render(c, http.StatusBadRequest, "login.html", page{Title: "Sign in", Error: "Email and password are required.", Data: form})
		return
	}

	_, err := ws.Session.Login(c.Request.Context(), form.Email, password)
	if err != nil {
		status, msg := http.StatusBadGateway, "Sign-in failed, try again later."
		if errors.Is(err, session.ErrAuthentication) {
			status, msg = http.StatusUnauthorized, "Invalid email or password."
		} else {
			s.logger.Warn("login failed", zap.String("workspace", ws.ID), zap.Error(err))
		}
		s.render(c, status, "login.html", page{Title: "Sign in", Error: msg, Data: form})
		return
	}
	ws.reset()
	c.Redirect(http.StatusSeeOther, form.Next)
}

// Logout handles POST /logout.
func (s *Server) Logout(c *gin.Context) {
	ws := workspace(c)
	if err := ws.Session.Logout(c.Request.Context()); err != nil {
		s.logger.Warn("logout", zap.String("workspace", ws.ID), zap.Error(err))
	}
	c.Redirect(http.StatusSeeOther, "/login")
}
