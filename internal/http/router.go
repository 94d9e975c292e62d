package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"retouch/internal/http/handlers"
	"retouch/internal/middleware"
)

// Options carries what the router needs beyond the handlers.
type Options struct {
	JWTSecret      string
	AdminTokenHash string
	DefaultLocale  string
	CORSOrigins    []string
	StaticDir      string
	RateLimit      int
	RateCounter    middleware.Counter
	CountryLookup  middleware.CountryLookup
	Logger         zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		middleware.Recovery,
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)

	r.Get("/v1/credits/costs", app.Costs)
	r.Get("/v1/credits/cost/{tool}", app.Cost)
	r.Get("/v1/credits/packages", app.Packages)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateCounter, opts.RateLimit, time.Minute, opts.Logger))
		r.Use(app.EnsureAccount)

		r.Post("/v1/images", app.UploadImage)
		r.Route("/v1/edits", func(r chi.Router) {
			r.Post("/", app.CreateEdit)
			r.Get("/{id}", app.GetEdit)
			r.Post("/{id}/process", app.ProcessEdit)
		})
		r.Get("/v1/credits", app.Credits)
		r.Get("/v1/credits/transactions", app.Transactions)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(opts.AdminTokenHash))

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", app.ListProviders)
			r.Post("/", app.CreateProvider)
			r.Post("/health", app.CheckProviders)
			r.Get("/{id}", app.GetProvider)
			r.Put("/{id}", app.UpdateProvider)
			r.Delete("/{id}", app.DeleteProvider)
			r.Post("/{id}/health", app.CheckProviders)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Get("/stats", app.JobStats)
			r.Get("/{id}", app.GetJob)
			r.Post("/{id}/cancel", app.CancelJob)
			r.Post("/{id}/retry", app.RetryJob)
		})
		r.Post("/credits/grant", app.GrantCredits)
		r.Put("/users/{id}/plan", app.SetPlan)
	})

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}
	return r
}
