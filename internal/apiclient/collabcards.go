package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"

	"github.com/collabcards/dashboard/internal/models"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePNG  = "image/png"
)

// UploadFile is one file of a multipart upload.
type UploadFile struct {
	Name string
	Body io.Reader
}

// PendingBatches lists batches, scoped to companyID when it is non-empty.
func (c *Client) PendingBatches(ctx context.Context, companyID string) ([]models.Batch, error) {
	var list []models.Batch
	err := c.do(ctx, &request{
		method: http.MethodGet,
		route:  "/collabcards/pending-batches",
		path:   "/collabcards/pending-batches",
		query:  companyQuery(companyID),
	}, &list)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// BatchRecords lists the collaborator cards of one batch.
func (c *Client) BatchRecords(ctx context.Context, batchID string) ([]models.CollabCard, error) {
	var list []models.CollabCard
	err := c.do(ctx, &request{
		method: http.MethodGet,
		route:  "/collabcards/batch/{id}/records",
		path:   "/collabcards/batch/" + url.PathEscape(batchID) + "/records",
	}, &list)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UploadXLSX submits a spreadsheet of collaborators and returns the created batch.
// It is never retried.
func (c *Client) UploadXLSX(ctx context.Context, companyID string, file UploadFile) (*models.Batch, error) {
	if !hasExt(file.Name, ".xlsx") {
		return nil, fmt.Errorf("%w: %q must be an .xlsx spreadsheet", ErrInvalidFile, file.Name)
	}
	body, contentType := multipartBody("file", contentTypeXLSX, []UploadFile{file})
	var batch models.Batch
	err := c.do(ctx, &request{
		method:      http.MethodPost,
		route:       "/collabcards/upload-xlsx",
		path:        "/collabcards/upload-xlsx",
		query:       companyQuery(companyID),
		body:        body,
		contentType: contentType,
	}, &batch)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// UploadCards submits generated PNG card images for a batch.
func (c *Client) UploadCards(ctx context.Context, batchID, companyID string, files []UploadFile) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: no files", ErrInvalidFile)
	}
	for _, f := range files {
		if !hasExt(f.Name, ".png") {
			return fmt.Errorf("%w: %q must be a .png image", ErrInvalidFile, f.Name)
		}
	}
	q := companyQuery(companyID)
	if q == nil {
		q = url.Values{}
	}
	q.Set("batch_id", batchID)
	body, contentType := multipartBody("files", contentTypePNG, files)
	return c.do(ctx, &request{
		method:      http.MethodPost,
		route:       "/cards/upload",
		path:        "/cards/upload",
		query:       q,
		body:        body,
		contentType: contentType,
	}, nil)
}

func companyQuery(companyID string) url.Values {
	if companyID == "" {
		return nil
	}
	return url.Values{"company_id": {companyID}}
}

func hasExt(name, ext string) bool {
	return strings.EqualFold(path.Ext(name), ext)
}

// multipartBody streams files as repeated parts named field through a pipe.
func multipartBody(field, contentType string, files []UploadFile) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for _, f := range files {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, path.Base(f.Name)))
			h.Set("Content-Type", contentType)
			part, err := mw.CreatePart(h)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f.Body); err != nil {
				pw.CloseWithError(fmt.Errorf("copy %s: %w", f.Name, err))
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()
	return pr, mw.FormDataContentType()
}
