package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/session"
)

type stubBackend struct {
	id *models.Identity
}

func (b *stubBackend) Token(context.Context, string, string) (*models.Token, error) {
	return &models.Token{AccessToken: "tok", TokenType: "bearer"}, nil
}

func (b *stubBackend) Me(context.Context) (*models.Identity, error) { return b.id, nil }
func (b *stubBackend) SetToken(string)                                {}
func (b *stubBackend) ClearToken()                                    {}

func signedIn(t *testing.T, role models.Role) *session.Manager {
	t.Helper()
	m := session.NewManager(&stubBackend{id: &models.Identity{ID: "u-1", Email: "ana@acme.test", Role: role}}, session.NewMemoryStore(""))
	_, err := m.Login(context.Background(), "ana@acme.test", "pw")
	require.NoError(t, err)
	return m
}

func anonymous() *session.Manager {
	m := session.NewManager(&stubBackend{}, session.NewMemoryStore(""))
	m.Restore(context.Background())
	return m
}

func newRouter(m *session.Manager, guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Session(func(*gin.Context) (*session.Manager, error) { return m, nil }))
	ok := func(c *gin.Context) { c.String(http.StatusOK, Identity(c).Email) }
	r.GET("/companies", guard, ok)
	r.GET("/tables/:screen", guard, ok)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireIdentity(t *testing.T) {
	r := newRouter(signedIn(t, models.RoleStandard), RequireIdentity())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/companies", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana@acme.test", w.Body.String())
}

func TestRequireIdentity_AnonymousPageRedirects(t *testing.T) {
	r := newRouter(anonymous(), RequireIdentity())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/companies?page=2", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login?next=%2Fcompanies%3Fpage%3D2", w.Header().Get("Location"))
}

func TestRequireIdentity_AnonymousDataIs401(t *testing.T) {
	r := newRouter(anonymous(), RequireIdentity())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/tables/batches", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"not signed in"}`, w.Body.String())
}

func TestRequireIdentity_MissingSessionIsWiringError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/companies", RequireIdentity(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := serve(r, httptest.NewRequest(http.MethodGet, "/companies", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireRole(t *testing.T) {
	guard := RequireRole(models.RoleOwner, models.RoleAdministrator)

	w := serve(newRouter(signedIn(t, models.RoleAdministrator), guard), httptest.NewRequest(http.MethodGet, "/companies", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(newRouter(signedIn(t, models.RoleCollaborator), guard), httptest.NewRequest(http.MethodGet, "/companies", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(newRouter(signedIn(t, models.RoleStandard), guard), httptest.NewRequest(http.MethodGet, "/tables/users", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"insufficient permissions"}`, w.Body.String())

	w = serve(newRouter(anonymous(), guard), httptest.NewRequest(http.MethodGet, "/companies", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst spent")
	assert.True(t, l.Allow("10.0.0.2"), "buckets are per IP")

	now = now.Add(time.Minute)
	assert.True(t, l.Allow("10.0.0.1"), "one token back after a minute")

	now = now.Add(time.Hour)
	l.Allow("10.0.0.3")
	assert.Equal(t, 1, l.Tracked(), "idle buckets are dropped")
}

func TestIPRateLimiter_Limit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", NewIPRateLimiter(1, 1).Limit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/login", nil)).Code)
	w := serve(r, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestIPRateLimiter_Disabled(t *testing.T) {
	l := NewIPRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("10.0.0.1"))
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://dash.cards.test"}))
	r.GET("/tables/batches", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/tables/batches", nil)
	req.Header.Set("Origin", "https://dash.cards.test")
	w := serve(r, req)
	assert.Equal(t, "https://dash.cards.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/tables/batches", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/tables/batches", nil)
	req.Header.Set("Origin", "https://dash.cards.test")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}

func TestCORS_Wildcard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"*"}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://any.test")
	w := serve(r, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestLoggerAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	r := gin.New()
	r.Use(Logger(zap.NewNop()), m.Instrument())
	r.GET("/batches/:id", func(c *gin.Context) {
		assert.NotEmpty(t, c.GetString(ContextRequestID))
		c.Status(http.StatusOK)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/batches/b-1", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/batches/b-2", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w = serve(r, req)
	assert.Equal(t, "req-7", w.Header().Get("X-Request-ID"))

	serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/batches/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
}
