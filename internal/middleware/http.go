package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
)

func Gzip(next http.Handler) http.Handler {
	wrapper, _ := gzhttp.NewWrapper(
		gzhttp.MinSize(1024),
		gzhttp.CompressionLevel(6),
	)
	return wrapper(next)
}

// CORS allows read-only cross-origin access. No origins means any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "If-None-Match"},
		ExposedHeaders: []string{"ETag"},
		MaxAge:         300,
	})
}

// RequestObserver receives one call per finished request.
type RequestObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// AccessLog logs each request at debug level and reports it to obs. It must
// wrap the mux directly so that the matched pattern is known afterwards.
func AccessLog(logger *slog.Logger, obs RequestObserver) func(http.Handler) http.Handler {
	logger = logger.With("component", "access_log")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			d := time.Since(start)
			if obs != nil {
				obs.ObserveHTTP(r.Method, route, rec.status, d)
			}
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rec.status,
				"ip", ClientIP(r),
				"duration_ms", d.Milliseconds(),
			)
		})
	}
}
