package dashboard

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/middleware"
	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/realtime"
	"github.com/collabcards/dashboard/internal/screens"
	"github.com/collabcards/dashboard/internal/session"
	"github.com/collabcards/dashboard/internal/table"
	"github.com/collabcards/dashboard/pkg/response"
)

//go:embed templates/*.html
var templateFS embed.FS

// Options configures the dashboard server.
type Options struct {
	APIBaseURL   string
	APITimeout   time.Duration
	CookieName   string
	CookieSecure bool
	SessionTTL   time.Duration
	IdleTTL      time.Duration
	// PollInterval is the refresh cadence of live tables; zero disables polling.
	PollInterval time.Duration
	// StaleAfter is how long page renders reuse fetched rows.
	StaleAfter time.Duration
	RetryDelay time.Duration
	// KV persists session tokens; nil keeps them in process memory.
	KV           session.KV
	Assets       screens.CardAssets
	Origins      []string
	LoginLimiter *middleware.IPRateLimiter
	APIMetrics   *apiclient.Metrics
	TableMetrics *table.Metrics
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.CookieName == "" {
		o.CookieName = "cards_sid"
	}
	if o.APITimeout <= 0 {
		o.APITimeout = 30 * time.Second
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Minute
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.Assets == nil {
		o.Assets = screens.StaticAssets{Base: o.APIBaseURL}
	}
	if o.LoginLimiter == nil {
		o.LoginLimiter = middleware.NewIPRateLimiter(0, 0)
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Server serves the dashboard pages, the JSON table snapshots and the live
// table socket.
type Server struct {
	opts     Options
	registry *Registry
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a server. hub may be nil for a single instance.
func NewServer(opts Options, hub *realtime.Hub) *Server {
	opts = opts.withDefaults()
	reg := NewRegistry(opts, hub)
	return &Server{
		opts:     opts,
		registry: reg,
		hub:      reg.hub,
		upgrader: realtime.Upgrader(opts.Origins),
		logger:   opts.Logger,
	}
}

// Registry returns the workspace registry.
func (s *Server) Registry() *Registry { return s.registry }

// Templates parses the page templates.
func Templates() *template.Template {
	return template.Must(template.New("").Funcs(template.FuncMap{
		"canManage": screens.CanManageAccounts,
		"roles":     func() []models.Role { return models.Roles },
	}).ParseFS(templateFS, "templates/*.html"))
}

// Routes registers every dashboard route on r.
func (s *Server) Routes(r *gin.Engine) {
	r.SetHTMLTemplate(Templates())

	r.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "workspaces": s.registry.Len(), "live_tables": s.hub.Count()})
	})

	ws := r.Group("/", middleware.Session(s.registry.Resolve))
	ws.GET("/login", s.LoginForm)
	ws.POST("/login", s.opts.LoginLimiter.Limit(), s.Login)
	ws.POST("/logout", s.Logout)

	authed := ws.Group("/", middleware.RequireIdentity())
	authed.GET("/", func(c *gin.Context) { c.Redirect(http.StatusSeeOther, "/batches") })
	authed.GET("/batches", s.ListBatches)
	authed.POST("/batches/upload", s.UploadXLSX)
	authed.GET("/batches/:id", s.ShowBatch)
	authed.POST("/batches/:id/cards", s.UploadCards)
	authed.GET("/tables/:screen", s.TableSnapshot)
	authed.GET("/ws/tables", realtime.ServeTables(s.hub, s.upgrader, s.openLiveTable, s.logger))

	admin := ws.Group("/", middleware.RequireRole(models.RoleOwner, models.RoleAdministrator))
	admin.GET("/companies", s.ListCompanies)
	admin.GET("/companies/new", s.NewCompany)
	admin.POST("/companies", s.CreateCompany)
	admin.GET("/companies/:id", s.EditCompany)
	admin.POST("/companies/:id", s.UpdateCompany)
	admin.GET("/users", s.ListUsers)
	admin.GET("/users/new", s.NewUser)
	admin.POST("/users", s.CreateUser)
	admin.GET("/users/:id", s.EditUser)
	admin.POST("/users/:id", s.UpdateUser)
}
