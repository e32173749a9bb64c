package middleware

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/session"
	"github.com/collabcards/dashboard/pkg/response"
)

// Context keys set by the session middlewares.
const (
	ContextSession  = "session"
	ContextIdentity = "identity"
)

// LoginPath is where anonymous browsers are sent.
const LoginPath = "/login"

// Resolver finds the session manager of the browser that sent the request,
// creating it when needed.
type Resolver func(c *gin.Context) (*session.Manager, error)

// Session scopes the browser's session manager to the request context so
// handlers can read it with session.CurrentIdentity.
func Session(resolve Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := resolve(c)
		if err != nil {
			_ = c.Error(err)
			response.Abort(c, http.StatusServiceUnavailable, "session unavailable")
			return
		}
		c.Set(ContextSession, m)
		c.Request = c.Request.WithContext(session.WithManager(c.Request.Context(), m))
		c.Next()
	}
}

// RequireIdentity stops anonymous requests: pages redirect to the login
// form, data endpoints answer 401.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		c.Set(ContextIdentity, id)
		c.Next()
	}
}

// Identity returns the identity RequireIdentity attached to c.
func Identity(c *gin.Context) *models.Identity {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*models.Identity)
	return id
}

func identity(c *gin.Context) (*models.Identity, bool) {
	id, err := session.CurrentIdentity(c.Request.Context())
	if errors.Is(err, session.ErrWiring) {
		_ = c.Error(err)
		response.Abort(c, http.StatusInternalServerError, "session not configured")
		return nil, false
	}
	if id == nil {
		if response.WantsJSON(c) {
			response.Abort(c, http.StatusUnauthorized, "not signed in")
			return nil, false
		}
		target := LoginPath
		if c.Request.Method == http.MethodGet && c.Request.URL.Path != "/" {
			target += "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
		}
		c.Redirect(http.StatusSeeOther, target)
		c.Abort()
		return nil, false
	}
	return id, true
}
