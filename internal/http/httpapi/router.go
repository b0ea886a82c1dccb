package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"cardgen/internal/http/handlers"
	"cardgen/internal/infra"
	"cardgen/internal/middleware"
)

// Options configures the router.
type Options struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
	// StaticDir, when set, is served under /static for the local file store.
	StaticDir string
	Logger    *infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(middleware.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.With(middleware.RateLimit(opts.RateLimitPerMin)).Post("/", app.CreateJob)
		r.Get("/active", app.ActiveJobs)
		r.Get("/{job_id}/video", app.VideoStatus)
		r.Get("/{job_id}/archive", app.Archive)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}
	return r
}
