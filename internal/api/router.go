package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// healthCheckTimeout bounds each component check made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(cors.Handler(s.corsOptions()))
	r.Use(s.bodySizeLimitMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		// Reads are open for dashboards.
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)

		r.Route("/firmware", func(r chi.Router) {
			r.Get("/", s.handleListFirmware)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFirmware)
				r.Get("/release-notes", s.handleReleaseNotes)
				r.Get("/history", s.handleInstallHistory)

				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)
					r.Post("/check", s.handleCheck)
					r.Post("/refresh", s.handleRefresh)
					r.Post("/install", s.handleInstall)
				})
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/devices", s.handleCreateDevice)
			r.Patch("/devices/{id}", s.handleUpdateDevice)
			r.Delete("/devices/{id}", s.handleDeleteDevice)

			r.Get("/audit", s.handleListAudit)

			// WebSocket clients pass the token as a query parameter.
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports the service and each registered component.
// Any failing component turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.healthChecks))
	for name := range s.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.healthChecks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

// corsOptions maps the API config onto go-chi/cors. An empty origin list
// allows every origin.
func (s *Server) corsOptions() cors.Options {
	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := s.cfg.CORS.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	}
	headers := s.cfg.CORS.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400, //nolint:mnd // one day
	}
}
