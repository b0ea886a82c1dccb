package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"cardgen/internal/infra"
)

// Logger writes one access log line per request and exposes a request
// scoped logger through zerolog.Ctx. 5xx responses log at error level.
func Logger(l *infra.Logger) func(http.Handler) http.Handler {
	if l == nil {
		l = infra.DiscardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			scoped := l.With().Str("request_id", RequestIDFromContext(r.Context())).Logger()
			next.ServeHTTP(ww, r.WithContext(scoped.WithContext(r.Context())))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := l.Info()
			switch {
			case status >= http.StatusInternalServerError:
				ev = l.Error()
			case r.URL.Path == "/v1/healthz":
				ev = l.Debug()
			}
			if info := infoFrom(r.Context()); info != nil {
				ev = ev.Str("request_id", info.id).Str("user_id", info.userID)
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http: request")
		})
	}
}
