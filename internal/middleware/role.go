package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles. It reads
// the identity itself, so it can be used without RequireIdentity.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		c.Set(ContextIdentity, id)
		if _, ok := allowed[id.Role]; !ok {
			if response.WantsJSON(c) {
				response.Abort(c, http.StatusForbidden, "insufficient permissions")
				return
			}
			c.Data(http.StatusForbidden, "text/plain; charset=utf-8", []byte("Your role cannot open this page."))
			c.Abort()
			return
		}
		c.Next()
	}
}
