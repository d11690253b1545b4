/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. hlog.NewHandler:       Request-scoped zerolog logger
  2. hlog.RequestIDHandler: Unique ID per request, echoed as X-Request-Id
  3. hlog.AccessHandler:    One access line per request (method, url, status, duration)
  4. Recoverer:             Panic recovery (500 instead of crash)
  5. CORS:                  Cross-origin requests for frontends

ROUTE GROUPS:
  /api/health           Liveness
  /api/employees/*      Directory, timelines, employee equity views
  /api/grants/*         Grant lifecycle
  /api/vesting-events/* Per-event processing
  /api/vesting/*        Vesting job control
  /api/imports/*        Spreadsheet imports
  /api/admin/reset      Database reset (dev only, when enabled)

SECURITY NOTE:
  No authentication middleware. Callers are authorized upstream.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RouterOptions configures middleware.
type RouterOptions struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(hlog.NewHandler(opts.Logger.With().Str("component", "api").Logger()))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEmployee)
				r.Get("/timeline", h.GetEmployeeTimeline)
				r.Get("/grants", h.GetEmployeeGrants)
				r.Get("/next-vesting", h.GetEmployeeNextVesting)
				r.Post("/terminate-equity", h.TerminateEmployeeEquity)

				r.Route("/employment", func(r chi.Router) {
					r.Get("/", historyHandler(h.Employment.Instance))
					r.Post("/", h.InsertEmployment)
					r.Get("/as-of", asOfHandler(h.Employment.Instance, h.Clock))
					r.Delete("/{recordID}", cancelHandler(h.Employment.Instance))
				})
				r.Route("/salary", func(r chi.Router) {
					r.Get("/", historyHandler(h.Salary.Instance))
					r.Post("/", h.InsertSalary)
					r.Get("/as-of", asOfHandler(h.Salary.Instance, h.Clock))
					r.Delete("/{recordID}", cancelHandler(h.Salary.Instance))
				})
				r.Route("/local-data", func(r chi.Router) {
					r.Get("/", historyHandler(h.LocalData.Instance))
					r.Post("/", h.InsertLocalData)
					r.Get("/as-of", asOfHandler(h.LocalData.Instance, h.Clock))
					r.Delete("/{recordID}", cancelHandler(h.LocalData.Instance))
				})
			})
		})

		// Grant routes
		r.Route("/grants", func(r chi.Router) {
			r.Post("/", h.CreateGrant)
			r.Get("/{id}", h.GetGrant)
			r.Get("/{id}/schedule", h.GetSchedule)
			r.Get("/{id}/events", h.GetGrantEvents)
			r.Get("/{id}/next-vesting", h.GetGrantNextVesting)
			r.Post("/{id}/terminate", h.TerminateGrant)
		})

		r.Post("/vesting-events/{id}/process", h.ProcessEvent)

		if h.Vesting != nil {
			r.Route("/vesting", func(r chi.Router) {
				r.Post("/run", h.RunVesting)
				r.Get("/runs", h.ListVestingRuns)
			})
		}

		// Import routes
		r.Route("/imports", func(r chi.Router) {
			r.Post("/salaries", h.ImportSalaries)
			r.Post("/employment", h.ImportEmployment)
			r.Get("/templates/{kind}", h.GetImportTemplate)
		})

		r.Post("/admin/reset", h.ResetDatabase)
	})

	return r
}
