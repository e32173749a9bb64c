package apiclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabcards/dashboard/internal/models"
)

func TestUploadXLSX_MultipartFileField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collabcards/upload-xlsx", r.URL.Path)
		assert.Equal(t, "acme-id", r.URL.Query().Get("company_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "staff.xlsx", hdr.Filename)
		assert.Equal(t, "sheet-bytes", string(data))

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"b9","original_filename":"staff.xlsx","total_records":42,"processed_records":0,"status":"pending","created_at":"2026-10-18T08:00:00Z"}`))
	})
	c.SetToken("tok")

	batch, err := c.UploadXLSX(context.Background(), "acme-id", UploadFile{Name: "staff.xlsx", Body: strings.NewReader("sheet-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "b9", batch.ID)
	assert.Equal(t, models.BatchPending, batch.Status)
	assert.Equal(t, 42, batch.TotalRecords)
}

func TestUploadXLSX_RejectsOtherExtensions(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := c.UploadXLSX(context.Background(), "", UploadFile{Name: "staff.csv", Body: strings.NewReader("a,b")})
	assert.ErrorIs(t, err, ErrInvalidFile)
	assert.Equal(t, int32(0), calls.Load())
}

func TestUploadCards_RepeatedFilesField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/upload", r.URL.Path)
		assert.Equal(t, "b1", r.URL.Query().Get("batch_id"))
		assert.Equal(t, "acme-id", r.URL.Query().Get("company_id"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		assert.Equal(t, "card_001.png", files[0].Filename)
		assert.Equal(t, "card_002.PNG", files[1].Filename)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.UploadCards(context.Background(), "b1", "acme-id", []UploadFile{
		{Name: "card_001.png", Body: strings.NewReader("png-1")},
		{Name: "dir/card_002.PNG", Body: strings.NewReader("png-2")},
	})
	require.NoError(t, err)
}

func TestUploadCards_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.UploadCards(context.Background(), "b1", "", []UploadFile{{Name: "a.png", Body: strings.NewReader("x")}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
