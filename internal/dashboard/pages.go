package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/middleware"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
	"github.com/collabcards/dashboard/internal/session"
	"github.com/collabcards/dashboard/internal/table"
	"github.com/collabcards/dashboard/pkg/response"
)

// page is the data every template receives.
type page struct {
	Title    string
	Identity *models.Identity
	Error    string
	Notice   string
	Data     any
}

// tablePage is a rendered table with sort links.
type tablePage struct {
	View    table.View
	Headers []sortHeader
	// Live is the websocket path streaming this table, empty for static tables.
	Live string
}

type sortHeader struct {
	Title  string
	Href   string
	Active bool
	Dir    table.Direction
}

func (s *Server) render(c *gin.Context, status int, name string, p page) {
	if p.Identity == nil {
		p.Identity = middleware.Identity(c)
	}
	c.HTML(status, name, p)
}

func (s *Server) renderError(c *gin.Context, status int, msg string) {
	s.render(c, status, "error.html", page{Title: http.StatusText(status), Error: msg})
}

// newTablePage links each sortable header to base with sort and dir set,
// toggling the direction of the active column.
func newTablePage(v table.View, base url.Values, path string) tablePage {
	tp := tablePage{View: v}
	for _, h := range v.Headers {
		sh := sortHeader{Title: h.Title}
		if h.Sortable {
			dir := table.Asc
			if v.Sort.Key == h.Key {
				sh.Active, sh.Dir = true, v.Sort.Direction
				if v.Sort.Direction == table.Asc {
					dir = table.Desc
				}
			}
			q := url.Values{}
			for k, vs := range base {
				q[k] = vs
			}
			q.Set("sort", h.Key)
			q.Set("dir", string(dir))
			sh.Href = path + "?" + q.Encode()
		}
		tp.Headers = append(tp.Headers, sh)
	}
	return tp
}

// liveURL is the socket path of screen with scope.
func liveURL(screen string, scope table.Scope) string {
	q := url.Values{"screen": {screen}}
	for k, v := range scope {
		q.Set(k, v)
	}
	return "/ws/tables?" + q.Encode()
}

// applySort re-sorts b when the request asks for it. Unknown columns are ignored.
func applySort[T any](c *gin.Context, b *table.Binding[T]) {
	key := c.Query("sort")
	if key == "" {
		return
	}
	_ = b.SortBy(key, table.ParseDirection(c.Query("dir")))
}

// loadTable returns rows for a page render. Rows younger than StaleAfter
// are reused, otherwise the table loads again. Fetch errors stay in the
// model for inline display next to the rows already held. Render the page
// from the returned model with ViewOf.
func loadTable[T any](ctx context.Context, s *Server, b *table.Binding[T]) table.Model[T] {
	m := b.Snapshot()
	switch {
	case m.Loading:
		m, _ = b.Await(ctx)
	case m.Err != nil || m.Stale(s.opts.Clock.Now(), s.opts.StaleAfter):
		m, _ = b.Refresh(ctx)
	}
	return m
}

// invalidate refreshes the tables inv covers: this workspace's own table
// at once, every other one through the hub.
func (s *Server) invalidate(c *gin.Context, inv realtime.Invalidation) {
	workspace(c).invalidate(inv)
	s.hub.Invalidate(c.Request.Context(), inv)
}

// signedOut sends the browser to the login form when the backend rejected
// the credential, either through err or while a table was loading.
func signedOut(c *gin.Context, err error) bool {
	if !errors.Is(err, apiclient.ErrUnauthorized) && workspace(c).Session.State() == session.StateAuthenticated {
		return false
	}
	if response.WantsJSON(c) {
		response.Abort(c, http.StatusUnauthorized, "session expired")
		return true
	}
	c.Redirect(http.StatusSeeOther, middleware.LoginPath)
	c.Abort()
	return true
}

// statusOf maps a backend error to the status the dashboard answers with.
func statusOf(err error) int {
	if status, ok := apiclient.ClientErrorStatus(err); ok {
		return status
	}
	switch {
	case errors.Is(err, apiclient.ErrInvalidFile),
		errors.Is(err, models.ErrNoChanges),
		errors.Is(err, screens.ErrCompanyRequired),
		errors.Is(err, screens.ErrBatchRequired):
		return http.StatusBadRequest
	case errors.Is(err, screens.ErrForeignCompany), errors.Is(err, screens.ErrNoCompany):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var fe *models.FieldError
	if errors.As(err, &fe) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// messageOf is the user-facing text of err.
func messageOf(err error) string {
	var fe *models.FieldError
	if errors.As(err, &fe) {
		return strings.ToUpper(fe.Error()[:1]) + fe.Error()[1:]
	}
	return apiclient.Message(err)
}

// safeNext accepts only local paths as a post-login destination.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/batches"
	}
	return next
}
