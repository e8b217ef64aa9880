package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type status struct {
	State     string   `json:"state"`
	Namespace string   `json:"namespace"`
	Waiting   string   `json:"waiting,omitempty"`
	Entries   []string `json:"entries"`
}

// newServer returns the handler of the binary.
// Absolute-form requests are proxied through the host, other requests are
// served by the admin routes and fall back to the host as well.
func newServer(host *offlinecache.Host, install func(context.Context) error, registry *prometheus.Registry, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))

	r.Get("/.offline/status", func(w http.ResponseWriter, r *http.Request) {
		c := host.Active()
		if c == nil {
			http.Error(w, "No active controller", http.StatusServiceUnavailable)
			return
		}
		entries, err := c.Entries(r.Context())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Could not list entries")
			http.Error(w, "Could not list entries", http.StatusInternalServerError)
			return
		}
		s := status{
			State:     c.State().String(),
			Namespace: c.NamespaceID(),
			Entries:   entries,
		}
		if waiting := host.Waiting(); waiting != nil {
			s.Waiting = waiting.NamespaceID()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)
	})

	r.Post("/.offline/install", func(w http.ResponseWriter, r *http.Request) {
		if err := install(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Install failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.NotFound(host.ServeHTTP)
	r.MethodNotAllowed(host.ServeHTTP)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.IsAbs() {
			host.ServeHTTP(w, req)
			return
		}
		r.ServeHTTP(w, req)
	})
}
