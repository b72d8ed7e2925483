package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ci-core/internal/middleware"
)

// RouterOptions configures the middleware stack of NewRouter.
type RouterOptions struct {
	CORSAllowedOrigins []string
	RateLimit          middleware.RateLimitConfig // disabled when RequestsPerSecond <= 0
	Validators         []middleware.JWTValidator  // empty disables authentication
	Logger             *slog.Logger
}

// NewRouter builds the HTTP router. /healthz is public; everything under /v1
// is authenticated and rate limited. ctx bounds background middleware work.
func NewRouter(ctx context.Context, h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(opts.Logger))
	r.Use(chimw.Recoverer)
	if len(opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"Location", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(ctx, opts.RateLimit))
		}
		r.Use(middleware.Authenticate(opts.Logger, opts.Validators...))
		h.Routes(r)
	})
	return r
}
