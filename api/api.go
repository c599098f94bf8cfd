// Package api implements the HTTP surface: session and credential
// custody, CSRF, brute-force protection, and the database
// administration endpoints that drive a per-request driver connection.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/dbadmin/internal/config"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	cfg        *config.Config
	sessions   SessionStore
	signer     *cookieSigner
	guard      *bruteForceGuard
	audit      *auditLogger
	logger     *slog.Logger
	web        http.Handler
	sessionTTL time.Duration
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and errors.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithSessionStore replaces the default in-memory store. The secret is
// the cookie-signing secret paired with the store (a persistent store
// persists its own secret so cookies survive restarts).
func WithSessionStore(store SessionStore, secret []byte) Option {
	return func(a *API) {
		a.sessions = store
		a.signer = newCookieSigner(secret)
	}
}

// WithWebHandler mounts the embedded UI: it serves / and every path no
// API route claims, so client-side routes deep-link correctly.
func WithWebHandler(h http.Handler) Option {
	return func(a *API) { a.web = h }
}

// New creates a new API instance.
func New(cfg *config.Config, opts ...Option) *API {
	a := &API{
		cfg:        cfg,
		guard:      newBruteForceGuard(cfg.BruteForceMax, cfg.BruteForceTTL),
		sessionTTL: cfg.SessionTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore(cfg.SessionTTL)
		a.signer = newCookieSigner(cfg.SessionSecret)
	}
	a.audit = newAuditLogger(a.logger)
	return a
}

// Close releases background goroutines and the session store.
func (a *API) Close() error {
	a.guard.close()
	return a.sessions.Close()
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(a.BasicAuthGate)
	r.Use(a.SessionMiddleware)

	r.Get("/health", a.Health)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Route("/api", func(r chi.Router) {
		// Public surface: reachable without a database login.
		r.Get("/drivers", a.ListDrivers)
		r.Get("/status", a.Status)
		r.Post("/auth/login", a.Login)
		r.Post("/auth/logout", a.Logout)
		r.Get("/connections", a.ListPresets)
		r.Post("/connections", a.AddPreset)
		r.Delete("/connections/{id}", a.RemovePreset)
		r.Post("/connections/{id}/connect", a.ConnectPreset)
		r.Post("/config/basic-auth", a.SetBasicAuth)

		// Everything else needs a live, reconstructed connection.
		r.Group(func(r chi.Router) {
			r.Use(a.ConnMiddleware)

			r.Get("/databases", a.ListDatabases)
			r.Post("/databases", a.CreateDatabase)
			r.Delete("/databases/{db}", a.DropDatabase)

			r.Get("/tables", a.ListTables)
			r.Post("/table", a.CreateTable)
			r.Get("/table/{name}", a.TableStructure)
			r.Delete("/table/{name}", a.DropTable)
			r.Post("/table/{name}/truncate", a.TruncateTable)
			r.Get("/table/{name}/sql", a.TableDDL)

			r.Get("/select/{table}", a.SelectRows)
			r.Post("/select/{table}", a.BulkAction)

			r.Get("/edit/{table}", a.GetRow)
			r.Post("/edit/{table}", a.InsertRow)
			r.Put("/edit/{table}", a.UpdateRows)
			r.Delete("/edit/{table}", a.DeleteRows)
			r.Post("/edit/{table}/upsert", a.UpsertRows)

			r.Post("/sql", a.RunSQL)
			r.Post("/sql/explain", a.ExplainSQL)
			r.Get("/dump", a.Dump)

			r.Get("/indexes/{table}", a.ListIndexes)
			r.Post("/indexes/{table}", a.AlterIndexes)
			r.Get("/foreign/{table}", a.ListForeignKeys)
			r.Post("/foreign/{table}", a.AlterForeignKeys)

			r.Get("/users", a.ListUsers)
			r.Get("/variables", a.ListVariables)
			r.Get("/processlist", a.ListProcesses)
			r.Delete("/processlist/{id}", a.KillProcess)
		})
	})

	if a.web != nil {
		r.Handle("/app/*", a.web)
		r.Get("/", a.web.ServeHTTP)
		r.NotFound(func(w http.ResponseWriter, req *http.Request) {
			// Unknown non-API paths are client-side routes.
			a.web.ServeHTTP(w, req)
		})
	}

	return r
}
