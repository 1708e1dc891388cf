// Package opsserver exposes the host process's /healthz and /metrics
// endpoints. This is operational exposition for the surrounding
// process, not a kernel transport; no kernel package imports it.
package opsserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// New returns the ops router. Handlers are wrapped with otelhttp so a
// host that wired observability/otel gets request spans for free.
func New(service string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": service,
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Serve runs the ops router on addr until the server errors. Callers
// usually run it on its own goroutine.
func Serve(addr, service string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           New(service),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
