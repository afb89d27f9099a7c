package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rtolen/vairify-dev-sub001/internal/metrics"
)

// Metrics creates middleware that records Prometheus metrics for HTTP requests.
// Tracks request count, duration and response size per route pattern.
//
// The route label is chi's matched pattern, so "/api/v1/sessions/{id}"
// is one series no matter how many session ids are requested. Requests
// that matched no route are labelled "unmatched".
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(middleware.Metrics())
//	r.Handle("/metrics", metrics.Handler())
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			metrics.ObserveHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start), ww.BytesWritten())
		})
	}
}
