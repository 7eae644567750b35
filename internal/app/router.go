package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/portside-host/portside/internal/activity"
	"github.com/portside-host/portside/internal/allocations"
	"github.com/portside-host/portside/internal/backups"
	"github.com/portside-host/portside/internal/databases"
	"github.com/portside-host/portside/internal/files"
	"github.com/portside-host/portside/internal/observability"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/power"
	"github.com/portside-host/portside/internal/principal"
	"github.com/portside-host/portside/internal/schedules"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/internal/settings"
	"github.com/portside-host/portside/internal/subusers"
	"github.com/portside-host/portside/internal/websocket"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	Authenticator principal.Authenticator
	ServerMW      server.Middleware

	ServerHandler      *server.Handler
	PowerHandler       *power.Handler
	FilesHandler       *files.Handler
	BackupsHandler     *backups.Handler
	SchedulesHandler   *schedules.Handler
	SubusersHandler    *subusers.Handler
	AllocationsHandler *allocations.Handler
	DatabasesHandler   *databases.Handler
	SettingsHandler    *settings.Handler
	WebsocketHandler   *websocket.Handler
	ActivityHandler    *activity.Handler
}

// NewRouter constructs the chi.Router with Portside defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/client", func(r chi.Router) {
		r.Use(params.Authenticator.Middleware)

		r.Get("/", params.ServerHandler.List)
		r.Get("/permissions", listPermissions)

		r.Route("/servers/{server}", func(r chi.Router) {
			r.Use(params.ServerMW.WithServer)

			r.Get("/", params.ServerHandler.Get)
			r.Get("/resources", params.ServerHandler.Resources)

			params.PowerHandler.MountRoutes(r)
			r.Route("/websocket", params.WebsocketHandler.MountRoutes)
			r.Route("/files", params.FilesHandler.MountRoutes)
			r.Route("/backups", params.BackupsHandler.MountRoutes)
			r.Route("/schedules", params.SchedulesHandler.MountRoutes)
			r.Route("/users", params.SubusersHandler.MountRoutes)
			r.Route("/network/allocations", params.AllocationsHandler.MountRoutes)
			r.Route("/databases", params.DatabasesHandler.MountRoutes)
			r.Route("/settings", params.SettingsHandler.MountRoutes)
			r.Route("/activity", params.ActivityHandler.MountRoutes)
		})
	})

	return r
}

// listPermissions publishes the full permission catalog so clients can
// render grant editors without hardcoding the list.
func listPermissions(w http.ResponseWriter, _ *http.Request) {
	httpx.Item(w, http.StatusOK, "system_permissions", map[string]any{
		"permissions": permission.All(),
	})
}
