package dashboard

import (
	"context"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/middleware"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
	"github.com/collabcards/dashboard/internal/table"
)

const (
	uploadXLSX  = "upload-xlsx"
	uploadCards = "upload-cards:"
)

type batchesPage struct {
	Table     tablePage
	CompanyID string
	// Companies feeds the company picker of platform-level users.
	Companies []models.Company
	Picker    bool
}

type batchPage struct {
	ID        string
	CompanyID string
	Table     tablePage
	Summary   string
	Settled   bool
}

// ListBatches handles GET /batches[?company_id=].
func (s *Server) ListBatches(c *gin.Context) {
	s.renderBatches(c, http.StatusOK, c.Query(screens.ScopeCompany), "", c.Query("notice"))
}

func (s *Server) renderBatches(c *gin.Context, status int, requested, errMsg, notice string) {
	ws := workspace(c)
	id := middleware.Identity(c)
	company, err := screens.ResolveCompany(id, requested)
	if err != nil {
		s.renderError(c, statusOf(err), messageOf(err))
		return
	}

	scope := screens.BatchScope(company)
	b := ws.batchesTable(scope)
	applySort(c, b)
	m := loadTable(c.Request.Context(), s, b)
	if signedOut(c, m.Err) {
		return
	}

	data := batchesPage{
		CompanyID: company,
		Picker:    screens.ChoosesCompany(id),
		Table:     newTablePage(b.ViewOf(m), scopeQuery(scope), "/batches"),
	}
	data.Table.Live = liveURL(screens.Batches, scope)
	if data.Picker {
		data.Companies = s.companyOptions(c.Request.Context(), ws)
	}
	s.render(c, status, "batches.html", page{Title: "Batches", Error: errMsg, Notice: notice, Data: data})
}

// UploadXLSX handles POST /batches/upload. A second upload from the same
// workspace while one is running is refused with 409.
func (s *Server) UploadXLSX(c *gin.Context) {
	ws := workspace(c)
	requested := c.PostForm(screens.ScopeCompany)
	company, err := screens.ResolveUploadCompany(middleware.Identity(c), requested)
	if err != nil {
		s.renderBatches(c, statusOf(err), requested, messageOf(err), "")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		s.renderBatches(c, http.StatusBadRequest, company, "Choose a spreadsheet to upload.", "")
		return
	}
	if !ws.beginUpload(uploadXLSX) {
		s.renderBatches(c, http.StatusConflict, company, "An upload is already in progress.", "")
		return
	}
	batch, err := s.sendXLSX(c.Request.Context(), ws, company, fh)
	ws.endUpload(uploadXLSX)
	if signedOut(c, err) {
		return
	}
	if err != nil {
		s.logger.Info("xlsx upload failed", zap.String("company_id", company), zap.Error(err))
		s.renderBatches(c, statusOf(err), company, "Upload failed: "+messageOf(err), "")
		return
	}

	s.invalidate(c, realtime.Invalidation{Screen: screens.Batches, Scope: screens.BatchScope(company)})
	q := url.Values{
		screens.ScopeCompany: {company},
		"notice":             {"Uploaded " + fh.Filename + ": " + strconv.Itoa(batch.TotalRecords) + " records queued."},
	}
	c.Redirect(http.StatusSeeOther, "/batches?"+q.Encode())
}

func (s *Server) sendXLSX(ctx context.Context, ws *Workspace, company string, fh *multipart.FileHeader) (*models.Batch, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ws.Client.UploadXLSX(ctx, company, apiclient.UploadFile{Name: fh.Filename, Body: f})
}

// ShowBatch handles GET /batches/:id.
func (s *Server) ShowBatch(c *gin.Context) {
	s.renderBatch(c, http.StatusOK, "", c.Query("notice"))
}

func (s *Server) renderBatch(c *gin.Context, status int, errMsg, notice string) {
	ws := workspace(c)
	batchID := c.Param("id")
	company, err := screens.ResolveCompany(middleware.Identity(c), c.Query(screens.ScopeCompany))
	if err != nil {
		s.renderError(c, statusOf(err), messageOf(err))
		return
	}

	scope := screens.CardScope(batchID)
	b := ws.cardsTable(scope)
	applySort(c, b)
	m := loadTable(c.Request.Context(), s, b)
	if signedOut(c, m.Err) {
		return
	}

	base := url.Values{}
	if company != "" {
		base.Set(screens.ScopeCompany, company)
	}
	data := batchPage{
		ID:        batchID,
		CompanyID: company,
		Table:     newTablePage(b.ViewOf(m), base, "/batches/"+url.PathEscape(batchID)),
		Summary:   screens.CardSummary(m.Rows),
		Settled:   len(m.Rows) > 0 && screens.CardsSettled(m.Rows),
	}
	if !data.Settled {
		data.Table.Live = liveURL(screens.Cards, scope)
	}
	s.render(c, status, "batch.html", page{Title: "Batch " + batchID, Error: errMsg, Notice: notice, Data: data})
}

// UploadCards handles POST /batches/:id/cards with one or more PNG files.
func (s *Server) UploadCards(c *gin.Context) {
	ws := workspace(c)
	batchID := c.Param("id")
	company, err := screens.ResolveUploadCompany(middleware.Identity(c), c.PostForm(screens.ScopeCompany))
	if err != nil {
		s.renderBatch(c, statusOf(err), messageOf(err), "")
		return
	}
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		s.renderBatch(c, http.StatusBadRequest, "Choose one or more card images.", "")
		return
	}
	files := form.File["files"]

	action := uploadCards + batchID
	if !ws.beginUpload(action) {
		s.renderBatch(c, http.StatusConflict, "An upload is already in progress.", "")
		return
	}
	err = s.sendCards(c.Request.Context(), ws, batchID, company, files)
	ws.endUpload(action)
	if signedOut(c, err) {
		return
	}
	if err != nil {
		s.logger.Info("card upload failed", zap.String("batch_id", batchID), zap.Error(err))
		s.renderBatch(c, statusOf(err), "Upload failed: "+messageOf(err), "")
		return
	}

	s.invalidate(c, realtime.Invalidation{Screen: screens.Cards, Scope: screens.CardScope(batchID)})
	q := url.Values{
		screens.ScopeCompany: {company},
		"notice":             {strconv.Itoa(len(files)) + " card images uploaded."},
	}
	c.Redirect(http.StatusSeeOther, "/batches/"+url.PathEscape(batchID)+"?"+q.Encode())
}

func (s *Server) sendCards(ctx context.Context, ws *Workspace, batchID, company string, headers []*multipart.FileHeader) error {
	files := make([]apiclient.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		files = append(files, apiclient.UploadFile{Name: fh.Filename, Body: f})
	}
	return ws.Client.UploadCards(ctx, batchID, company, files)
}

func scopeQuery(scope table.Scope) url.Values {
	q := url.Values{}
	for k, v := range scope {
		q.Set(k, v)
	}
	return q
}
