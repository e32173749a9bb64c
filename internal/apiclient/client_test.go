package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabcards/dashboard/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("/api")
	assert.Error(t, err)
}

func TestToken_SendsPasswordGrantForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ana@acme.test", r.PostForm.Get("username"))
		assert.Equal(t, "s3cret", r.PostForm.Get("password"))
		_ = json.NewEncoder(w).Encode(models.Token{AccessToken: "tok-1", TokenType: "bearer"})
	})

	tok, err := c.Token(context.Background(), "ana@acme.test", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)
}

func TestBearer_AttachReplaceClear(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})
	ctx := context.Background()

	c.SetToken("first")
	_, err := c.ListCompanies(ctx)
	require.NoError(t, err)

	c.SetToken("second")
	_, err = c.ListCompanies(ctx)
	require.NoError(t, err)

	c.ClearToken()
	_, err = c.ListCompanies(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer first", "Bearer second", ""}, seen)
	assert.Empty(t, c.Bearer())
}

func TestUnauthorizedHook_FiresOnlyWithBearer(t *testing.T) {
	var fired atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}, WithUnauthorizedHook(func(bearer string) {
		assert.Equal(t, "stale", bearer)
		fired.Add(1)
	}))
	ctx := context.Background()

	_, err := c.Me(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), fired.Load(), "anonymous 401 must not fire the hook")

	c.SetToken("stale")
	_, err = c.Me(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, "Could not validate credentials", Message(err))
}

func TestParseDetail(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"File must be .xlsx"}`, "File must be .xlsx"},
		{"validation list", `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`, "email: value is not a valid email address"},
		{"plain text", "upstream timeout", "upstream timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseDetail([]byte(tc.body)))
		})
	}
}

func TestAPIError_Sentinels(t *testing.T) {
	assert.True(t, errors.Is(&APIError{Status: http.StatusNotFound}, ErrNotFound))
	assert.True(t, errors.Is(&APIError{Status: http.StatusForbidden}, ErrForbidden))
	assert.False(t, errors.Is(&APIError{Status: http.StatusInternalServerError}, ErrNotFound))
	status, ok := ClientErrorStatus(fmt.Errorf("update: %w", &APIError{Status: http.StatusConflict}))
	assert.True(t, ok)
	assert.Equal(t, http.StatusConflict, status)
	_, ok = ClientErrorStatus(&APIError{Status: http.StatusBadGateway})
	assert.False(t, ok)
}

func TestUpdateCompany_SendsPatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/companies/c1", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"note":"vip"}`, string(body))
		_, _ = w.Write([]byte(`{"id":"c1","name":"Acme","note":"vip"}`))
	})
	note := "vip"

	co, err := c.UpdateCompany(context.Background(), "c1", models.CompanyUpdate{Note: &note})
	require.NoError(t, err)
	assert.Equal(t, "vip", *co.Note)
}

func TestUpdateUser_EmptyDiffSendsNothing(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := c.UpdateUser(context.Background(), "u1", models.UserUpdate{})
	assert.ErrorIs(t, err, models.ErrNoChanges)
	assert.Equal(t, int32(0), calls.Load())
}

func TestPendingBatches_CompanyScope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collabcards/pending-batches", r.URL.Path)
		assert.Equal(t, "acme-id", r.URL.Query().Get("company_id"))
		_, _ = w.Write([]byte(`[{"id":"b1","total_records":42,"processed_records":0,"status":"pending","created_at":"2026-10-01T09:30:00Z"}]`))
	})

	list, err := c.PendingBatches(context.Background(), "acme-id")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.BatchPending, list[0].Status)
	assert.Equal(t, 42, list[0].TotalRecords)
}

func TestMetrics_RecordTemplatedRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c1","name":"Acme"}`))
	}, WithMetrics(m))

	_, err := c.GetCompany(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/companies/{id}", "200")))
}

func TestBaseURLWithPathPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/api/"), r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := New(srv.URL + "/api/")
	require.NoError(t, err)
	_, err = c.ListUsers(context.Background())
	require.NoError(t, err)
}
