package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/collabcards/dashboard/internal/models"
)

type account struct {
	password string
	identity models.Identity
}

// fakeBackend is an in-memory card backend.
type fakeBackend struct {
	t *testing.T

	mu        sync.Mutex
	accounts  map[string]account
	tokens    map[string]string // token -> email
	companies []models.Company
	users     []models.User
	batches   []models.Batch
	records   map[string][]models.CollabCard
	patches   []map[string]any
	uploads   int
	cardFiles []string
	// uploadGate, when set, holds xlsx uploads until it is closed.
	uploadGate chan struct{}
	uploading  chan struct{}
	failCreate string
	// recordsDelay slows the record listing of a batch.
	recordsDelay map[string]time.Duration
}

func str(s string) *string { return &s }

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	b := &fakeBackend{
		t: t,
		accounts: map[string]account{
			"owner@cards.test": {password: "pw", identity: models.Identity{ID: "u-owner", Email: "owner@cards.test", Role: models.RoleOwner}},
			"ana@acme.test":    {password: "pw", identity: models.Identity{ID: "u-ana", Email: "ana@acme.test", Role: models.RoleCollaborator, CompanyID: str("acme-id")}},
		},
		tokens: map[string]string{},
		companies: []models.Company{
			{ID: "acme-id", Name: "Acme", Phone: str("555-0100")},
			{ID: "globex-id", Name: "Globex"},
		},
		users: []models.User{
			{ID: "u-ana", Email: "ana@acme.test", Role: models.RoleCollaborator, CompanyID: str("acme-id")},
		},
		batches: []models.Batch{
			{ID: "b-1", CompanyID: str("acme-id"), OriginalFilename: str("staff.xlsx"), TotalRecords: 2, ProcessedRecords: 1, Status: models.BatchProcessing, CreatedAt: created},
			{ID: "b-2", CompanyID: str("globex-id"), OriginalFilename: str("globex.xlsx"), TotalRecords: 1, Status: models.BatchPending, CreatedAt: created.Add(time.Hour)},
		},
		records: map[string][]models.CollabCard{
			"b-1": {
				{ID: "r-1", BatchID: "b-1", FullName: "Ana Ruiz", Email: "ana@acme.test", Status: models.CardGenerated, CardFilename: str("card_001.png")},
				{ID: "r-2", BatchID: "b-1", FullName: "Bo Chen", Email: "bo@acme.test", Status: models.CardPending},
			},
			"b-2": {
				{ID: "r-3", BatchID: "b-2", FullName: "Cy Park", Email: "cy@globex.test", Status: models.CardPending},
			},
		},
		recordsDelay: map[string]time.Duration{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", b.token)
	mux.HandleFunc("GET /auth/me", b.authed(func(w http.ResponseWriter, _ *http.Request, id models.Identity) {
		writeJSON(w, http.StatusOK, id)
	}))
	mux.HandleFunc("GET /companies", b.authed(func(w http.ResponseWriter, _ *http.Request, _ models.Identity) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.companies)
	}))
	mux.HandleFunc("POST /companies", b.authed(b.createCompany))
	mux.HandleFunc("GET /companies/{id}", b.authed(func(w http.ResponseWriter, r *http.Request, _ models.Identity) {
		if c, ok := b.company(r.PathValue("id")); ok {
			writeJSON(w, http.StatusOK, c)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Company not found"})
	}))
	mux.HandleFunc("PATCH /companies/{id}", b.authed(b.patchCompany))
	mux.HandleFunc("GET /users", b.authed(func(w http.ResponseWriter, _ *http.Request, _ models.Identity) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.users)
	}))
	mux.HandleFunc("GET /collabcards/pending-batches", b.authed(b.pendingBatches))
	mux.HandleFunc("GET /collabcards/batch/{id}/records", b.authed(func(w http.ResponseWriter, r *http.Request, _ models.Identity) {
		b.mu.Lock()
		delay := b.recordsDelay[r.PathValue("id")]
		b.mu.Unlock()
		time.Sleep(delay)
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.records[r.PathValue("id")])
	}))
	mux.HandleFunc("POST /collabcards/upload-xlsx", b.authed(b.uploadXLSX))
	mux.HandleFunc("POST /cards/upload", b.authed(b.uploadCards))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad form"})
		return
	}
	email := r.PostForm.Get("username")
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[email]
	if !ok || acc.password != r.PostForm.Get("password") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
		return
	}
	tok := "tok-" + email
	b.tokens[tok] = email
	writeJSON(w, http.StatusOK, models.Token{AccessToken: tok, TokenType: "bearer"})
}

func (b *fakeBackend) authed(next func(http.ResponseWriter, *http.Request, models.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		email, ok := b.tokens[tok]
		acc := b.accounts[email]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next(w, r, acc.identity)
	}
}

// revoke invalidates every token issued so far.
func (b *fakeBackend) revoke() {
	b.mu.Lock()
	b.tokens = map[string]string{}
	b.mu.Unlock()
}

func (b *fakeBackend) company(id string) (models.Company, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.companies {
		if c.ID == id {
			return c, true
		}
	}
	return models.Company{}, false
}

func (b *fakeBackend) createCompany(w http.ResponseWriter, r *http.Request, _ models.Identity) {
	var in models.CompanyCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCreate != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]any{
			{"loc": []string{"body", "email"}, "msg": b.failCreate},
		}})
		return
	}
	c := models.Company{ID: "c-new", Name: in.Name, Email: in.Email, Phone: in.Phone}
	b.companies = append(b.companies, c)
	writeJSON(w, http.StatusCreated, c)
}

func (b *fakeBackend) patchCompany(w http.ResponseWriter, r *http.Request, _ models.Identity) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patches = append(b.patches, body)
	for i, c := range b.companies {
		if c.ID != r.PathValue("id") {
			continue
		}
		if v, ok := body["phone"].(string); ok {
			b.companies[i].Phone = &v
		}
		if v, ok := body["name"].(string); ok {
			b.companies[i].Name = v
		}
		writeJSON(w, http.StatusOK, b.companies[i])
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Company not found"})
}

func (b *fakeBackend) pendingBatches(w http.ResponseWriter, r *http.Request, id models.Identity) {
	company := r.URL.Query().Get("company_id")
	if id.CompanyID != nil {
		company = *id.CompanyID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Batch{}
	for _, batch := range b.batches {
		if company == "" || (batch.CompanyID != nil && *batch.CompanyID == company) {
			out = append(out, batch)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) uploadXLSX(w http.ResponseWriter, r *http.Request, _ models.Identity) {
	f, fh, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "file is required"})
		return
	}
	_, _ = io.Copy(io.Discard, f)
	_ = f.Close()

	b.mu.Lock()
	gate, uploading := b.uploadGate, b.uploading
	b.mu.Unlock()
	if gate != nil {
		close(uploading)
		<-gate
	}

	company := r.URL.Query().Get("company_id")
	batch := models.Batch{
		ID: "b-new", CompanyID: &company, OriginalFilename: str(fh.Filename),
		TotalRecords: 42, Status: models.BatchPending, CreatedAt: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
	b.mu.Lock()
	b.uploads++
	b.batches = append(b.batches, batch)
	b.mu.Unlock()
	writeJSON(w, http.StatusAccepted, batch)
}

func (b *fakeBackend) uploadCards(w http.ResponseWriter, r *http.Request, _ models.Identity) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "files are required"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fh := range r.MultipartForm.File["files"] {
		b.cardFiles = append(b.cardFiles, r.URL.Query().Get("batch_id")+"/"+fh.Filename)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (b *fakeBackend) setCardStatus(batchID, recordID string, s models.CardStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.records[batchID] {
		if r.ID == recordID {
			b.records[batchID][i].Status = s
		}
	}
}

// memKV is an in-memory session.KV.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	cmd := redis.NewStringResult(v, nil)
	if !ok {
		cmd = redis.NewStringResult("", redis.Nil)
	}
	return cmd
}

func (m *memKV) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key], _ = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (m *memKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
