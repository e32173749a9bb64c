package dashboard

import (
	"github.com/gin-gonic/gin"

	"github.com/collabcards/dashboard/internal/middleware"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
	"github.com/collabcards/dashboard/internal/table"
	"github.com/collabcards/dashboard/pkg/response"
)

// TableSnapshot handles GET /tables/:screen and answers the rendered view of
// the workspace's page table in the response envelope.
func (s *Server) TableSnapshot(c *gin.Context) {
	ws := workspace(c)
	id := middleware.Identity(c)
	screen := c.Param("screen")
	scope, ok := s.screenScope(c, id, screen)
	if !ok {
		return
	}

	var (
		view table.View
		err  error
	)
	ctx := c.Request.Context()
	switch screen {
	case screens.Companies:
		b := ws.companiesTable()
		applySort(c, b)
		m := loadTable(ctx, s, b)
		err, view = m.Err, b.ViewOf(m)
	case screens.Users:
		b := ws.usersTable()
		applySort(c, b)
		m := loadTable(ctx, s, b)
		err, view = m.Err, b.ViewOf(m)
	case screens.Batches:
		b := ws.batchesTable(scope)
		applySort(c, b)
		m := loadTable(ctx, s, b)
		err, view = m.Err, b.ViewOf(m)
	case screens.Cards:
		b := ws.cardsTable(scope)
		applySort(c, b)
		m := loadTable(ctx, s, b)
		err, view = m.Err, b.ViewOf(m)
	}
	if signedOut(c, err) {
		return
	}
	response.OK(c, view)
}

// openLiveTable binds a polling table for a websocket. The table lives on
// the workspace context, so signing out or eviction closes it.
func (s *Server) openLiveTable(c *gin.Context) (string, map[string]string, realtime.LiveTable, bool) {
	ws := workspace(c)
	screen := c.Query("screen")
	scope, ok := s.screenScope(c, middleware.Identity(c), screen)
	if !ok {
		return "", nil, nil, false
	}

	ctx := ws.liveContext()
	interval := s.opts.PollInterval
	var t realtime.LiveTable
	switch screen {
	case screens.Companies:
		t = table.Bind(ctx, screens.FetchCompanies(ws.Client), screens.CompanyColumns(), ws.tableOptions("live_companies", scope, table.Sort{Key: "name"}, 0))
	case screens.Users:
		t = table.Bind(ctx, screens.FetchUsers(ws.Client), screens.UserColumns(), ws.tableOptions("live_users", scope, table.Sort{Key: "email"}, 0))
	case screens.Batches:
		t = table.Bind(ctx, screens.FetchBatches(ws.Client), screens.BatchColumns(), ws.tableOptions("live_batches", scope, screens.BatchesDefaultSort, interval))
	case screens.Cards:
		t = table.Bind(ctx, screens.FetchCards(ws.Client), screens.CardColumns(s.opts.Assets), ws.tableOptions("live_cards", scope, table.Sort{}, interval))
	}
	return screen, scope, held{LiveTable: t, release: ws.hold()}, true
}

// held releases its workspace when the table closes.
type held struct {
	realtime.LiveTable
	release func()
}

func (h held) Close() {
	h.LiveTable.Close()
	h.release()
}

// screenScope validates screen access and builds the table scope from the
// query. On failure it answers the request itself.
func (s *Server) screenScope(c *gin.Context, id *models.Identity, screen string) (table.Scope, bool) {
	switch screen {
	case screens.Companies, screens.Users:
		if !screens.CanManageAccounts(id) {
			response.Forbidden(c, "insufficient permissions")
			return nil, false
		}
		return table.Scope{}, true
	case screens.Batches:
		company, err := screens.ResolveCompany(id, c.Query(screens.ScopeCompany))
		if err != nil {
			response.Error(c, statusOf(err), messageOf(err))
			return nil, false
		}
		return screens.BatchScope(company), true
	case screens.Cards:
		batchID := c.Query(screens.ScopeBatch)
		if batchID == "" {
			response.BadRequest(c, screens.ErrBatchRequired.Error())
			return nil, false
		}
		return screens.CardScope(batchID), true
	}
	response.NotFound(c, "unknown table "+screen)
	return nil, false
}
