// Package dashboard serves the admin pages. Every browser gets a workspace:
// its own request pipeline, session manager and bound tables.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
	"github.com/collabcards/dashboard/internal/session"
	"github.com/collabcards/dashboard/internal/table"
)

const (
	contextWorkspace = "workspace"
	restoreTimeout   = 10 * time.Second
	// maxPageTables bounds the page tables one workspace keeps bound.
	maxPageTables = 32
)

// Workspace is the state behind one dashboard cookie.
type Workspace struct {
	ID      string
	Client  *apiclient.Client
	Session *session.Manager

	reg *Registry

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	lastSeen time.Time
	active   int
	pages    map[string]*pageTable
	order    []string
	uploads  map[string]struct{}
}

// pageTable is a table bound for page renders of one screen and scope.
type pageTable struct {
	screen string
	scope  table.Scope
	table  interface {
		realtime.Invalidator
		Close()
	}
	hubID string
}

// Registry owns the workspaces of this instance.
type Registry struct {
	opts   Options
	hub    *realtime.Hub
	clock  clockwork.Clock
	logger *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, hub *realtime.Hub) *Registry {
	opts = opts.withDefaults()
	if hub == nil {
		hub = realtime.NewHub(opts.Logger, nil)
	}
	return &Registry{
		opts:       opts,
		hub:        hub,
		clock:      opts.Clock,
		logger:     opts.Logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Resolve returns the session manager of the request's workspace. A browser
// without a valid cookie gets a new workspace. The first request of a
// workspace blocks until the persisted session is restored.
func (r *Registry) Resolve(c *gin.Context) (*session.Manager, error) {
	sid, err := c.Cookie(r.opts.CookieName)
	if _, perr := uuid.Parse(sid); err != nil || perr != nil {
		sid = uuid.NewString()
	}
	ws, err := r.open(sid)
	if err != nil {
		return nil, err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(r.opts.CookieName, sid, int(r.opts.SessionTTL.Seconds()), "/", "", r.opts.CookieSecure, true)
	c.Set(contextWorkspace, ws)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), restoreTimeout)
	defer cancel()
	ws.Session.Restore(ctx)
	return ws.Session, nil
}

func (r *Registry) open(sid string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.workspaces[sid]; ok {
		ws.touch(r.clock.Now())
		return ws, nil
	}

	client, err := apiclient.New(r.opts.APIBaseURL,
		apiclient.WithHTTPClient(&http.Client{Timeout: r.opts.APITimeout}),
		apiclient.WithLogger(r.logger.With(zap.String("workspace", sid))),
		apiclient.WithMetrics(r.opts.APIMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	var store session.TokenStore = session.NewMemoryStore("")
	if r.opts.KV != nil {
		store = session.NewRedisStore(r.opts.KV, sid, r.opts.SessionTTL)
	}

	ws := &Workspace{
		ID:       sid,
		Client:   client,
		reg:      r,
		lastSeen: r.clock.Now(),
		pages:    make(map[string]*pageTable),
		uploads:  make(map[string]struct{}),
	}
	ws.ctx, ws.cancel = context.WithCancel(context.Background())
	ws.Session = session.NewManager(client, store,
		session.WithLogger(r.logger.With(zap.String("workspace", sid))),
		session.WithClock(r.clock),
		session.WithSignOutHook(func(session.Reason) { ws.reset() }),
	)
	r.workspaces[sid] = ws
	r.logger.Debug("workspace opened", zap.String("workspace", sid))
	return ws, nil
}

// Len returns the number of open workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Sweep closes workspaces idle for longer than the idle TTL. Workspaces
// with an open live table are kept.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.opts.IdleTTL)
	var idle []*Workspace
	r.mu.Lock()
	for sid, ws := range r.workspaces {
		if ws.idleSince(cutoff) {
			delete(r.workspaces, sid)
			idle = append(idle, ws)
		}
	}
	r.mu.Unlock()

	for _, ws := range idle {
		ws.close()
	}
	if len(idle) > 0 {
		r.logger.Info("idle workspaces evicted", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run sweeps idle workspaces until ctx is done, then closes all of them.
func (r *Registry) Run(ctx context.Context) {
	interval := r.opts.IdleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

// Close closes every workspace.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()
	for _, ws := range all {
		ws.close()
	}
}

func workspace(c *gin.Context) *Workspace {
	return c.MustGet(contextWorkspace).(*Workspace)
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince(cutoff time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active == 0 && w.lastSeen.Before(cutoff)
}

// reset drops every table bound for the signed-out user.
func (w *Workspace) reset() {
	w.mu.Lock()
	w.releaseLocked()
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()
}

func (w *Workspace) close() {
	w.mu.Lock()
	w.releaseLocked()
	w.mu.Unlock()
}

func (w *Workspace) releaseLocked() {
	w.cancel()
	for _, p := range w.pages {
		w.reg.hub.Unregister(p.hubID)
	}
	w.pages = make(map[string]*pageTable)
	w.order = nil
}

// beginUpload marks action as in flight. It reports false when the same
// action is already running.
func (w *Workspace) beginUpload(action string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.uploads[action]; busy {
		return false
	}
	w.uploads[action] = struct{}{}
	return true
}

func (w *Workspace) endUpload(action string) {
	w.mu.Lock()
	delete(w.uploads, action)
	w.mu.Unlock()
}

func (w *Workspace) tableOptions(name string, scope table.Scope, sort table.Sort, interval time.Duration) table.Options {
	o := w.reg.opts
	return table.Options{
		Name:            name,
		Scope:           scope,
		RefreshInterval: interval,
		DefaultSort:     sort,
		RetryDelay:      o.RetryDelay,
		Clock:           o.Clock,
		Logger:          o.Logger.With(zap.String("workspace", w.ID)),
		Metrics:         o.TableMetrics,
	}
}

func pageKey(screen string, scope table.Scope) string {
	return screen + "?" + scopeQuery(scope).Encode()
}

// pageBinding returns the workspace's page table of screen bound to scope,
// binding it on first use. Every scope gets its own binding so concurrent
// renders of different scopes never see each other's rows. The least
// recently used table is dropped past maxPageTables.
func pageBinding[T any](w *Workspace, screen string, scope table.Scope, fetch table.FetchFunc[T], cols []table.Column[T], sort table.Sort) *table.Binding[T] {
	key := pageKey(screen, scope)
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pages[key]; ok {
		if b, ok := p.table.(*table.Binding[T]); ok {
			w.usedLocked(key)
			return b
		}
	}

	b := table.Bind(w.ctx, fetch, cols, w.tableOptions(screen, scope, sort, 0))
	w.pages[key] = &pageTable{screen: screen, scope: scope, table: b, hubID: w.reg.hub.Register(screen, scope, b)}
	w.order = append(w.order, key)
	for len(w.order) > maxPageTables {
		oldest := w.order[0]
		w.order = w.order[1:]
		if p, ok := w.pages[oldest]; ok {
			delete(w.pages, oldest)
			w.reg.hub.Unregister(p.hubID)
			p.table.Close()
		}
	}
	return b
}

func (w *Workspace) usedLocked(key string) {
	for i, k := range w.order {
		if k == key {
			w.order = append(append(w.order[:i:i], w.order[i+1:]...), key)
			return
		}
	}
}

func (w *Workspace) companiesTable() *table.Binding[models.Company] {
	return pageBinding(w, screens.Companies, nil, screens.FetchCompanies(w.Client), screens.CompanyColumns(), table.Sort{Key: "name", Direction: table.Asc})
}

func (w *Workspace) usersTable() *table.Binding[models.User] {
	return pageBinding(w, screens.Users, nil, screens.FetchUsers(w.Client), screens.UserColumns(), table.Sort{Key: "email", Direction: table.Asc})
}

func (w *Workspace) batchesTable(scope table.Scope) *table.Binding[models.Batch] {
	return pageBinding(w, screens.Batches, scope, screens.FetchBatches(w.Client), screens.BatchColumns(), screens.BatchesDefaultSort)
}

func (w *Workspace) cardsTable(scope table.Scope) *table.Binding[models.CollabCard] {
	return pageBinding(w, screens.Cards, scope, screens.FetchCards(w.Client), screens.CardColumns(w.reg.opts.Assets), table.Sort{})
}

// hold keeps the workspace from being evicted while a live table is open.
func (w *Workspace) hold() (release func()) {
	w.mu.Lock()
	w.active++
	w.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.active--
			w.lastSeen = w.reg.clock.Now()
			w.mu.Unlock()
		})
	}
}

func (w *Workspace) liveContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

// invalidate re-fetches the workspace's page tables covered by inv.
func (w *Workspace) invalidate(inv realtime.Invalidation) {
	var hit []realtime.Invalidator
	w.mu.Lock()
	for _, p := range w.pages {
		if inv.Covers(p.screen, p.scope) {
			hit = append(hit, p.table)
		}
	}
	w.mu.Unlock()
	for _, t := range hit {
		t.Invalidate()
	}
}
