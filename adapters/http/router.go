// Package http provides the admin HTTP surface: health checks, schema
// introspection and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/artpar/entitysdk/core/dependency"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig configures the admin router. Registry is required.
type RouterConfig struct {
	Registry   ports.SchemaRegistry
	Dependents *dependency.Index

	// Health is checked by /readyz; nil means always ready.
	Health HealthChecker

	// MetricsPath mounts MetricsHandler; empty disables metrics.
	MetricsPath    string
	MetricsHandler http.Handler // defaults to promhttp.Handler()

	Version string
	Logger  zerolog.Logger
}

// NewRouter creates the admin router.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Dependents == nil {
		cfg.Dependents = dependency.NewIndex(cfg.Registry)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(cfg.Logger, cfg.MetricsPath))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handlers{cfg: cfg}

	r.Get("/healthz", h.liveness)
	r.Get("/readyz", h.readiness)
	r.Get("/version", h.version)

	r.Route("/schemas", func(r chi.Router) {
		r.Get("/", h.listSchemas)
		r.Get("/{entity}", h.getSchema)
		r.Get("/{entity}/dependents", h.dependents)
	})

	if cfg.MetricsPath != "" {
		metricsHandler := cfg.MetricsHandler
		if metricsHandler == nil {
			metricsHandler = promhttp.Handler()
		}
		r.Handle(cfg.MetricsPath, metricsHandler)
	}

	return r
}

type handlers struct {
	cfg RouterConfig
}

func (h *handlers) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.cfg.Health != nil {
		if err := h.cfg.Health.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) version(w http.ResponseWriter, r *http.Request) {
	v := h.cfg.Version
	if v == "" {
		v = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": v, "service": "entitysdk"})
}

func (h *handlers) listSchemas(w http.ResponseWriter, r *http.Request) {
	all := h.cfg.Registry.GetAllSchema()
	out := make([]SchemaSummary, 0, len(all))
	for _, s := range all {
		out = append(out, Summarize(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": out})
}

func (h *handlers) getSchema(w http.ResponseWriter, r *http.Request) {
	s, ok := h.cfg.Registry.GetSchema(chi.URLParam(r, "entity"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	writeJSON(w, http.StatusOK, Summarize(s))
}

func (h *handlers) dependents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.cfg.Registry.GetSchema(chi.URLParam(r, "entity"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	deps := h.cfg.Dependents.FindDependents(s)
	if deps == nil {
		deps = []dependency.Dependent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": s.LogicalName, "dependents": deps})
}

// SchemaSummary is the JSON view of a schema.
type SchemaSummary struct {
	Entity       string             `json:"entity"`
	Description  string             `json:"description,omitempty"`
	Virtual      bool               `json:"virtual,omitempty"`
	Ownership    string             `json:"ownership"`
	Restrictions []string           `json:"restrictions,omitempty"`
	Attributes   []AttributeSummary `json:"attributes"`
}

// AttributeSummary is the JSON view of an attribute.
type AttributeSummary struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Entity     string   `json:"entity,omitempty"`
	Behavior   string   `json:"behavior,omitempty"`
	Required   bool     `json:"required,omitempty"`
	Values     []string `json:"values,omitempty"`
	AutoNumber bool     `json:"autoNumber,omitempty"`
	Default    bool     `json:"hasDefault,omitempty"`
	System     bool     `json:"system,omitempty"`
}

// Summarize builds the JSON view of s with attributes in name order.
func Summarize(s schema.Schema) SchemaSummary {
	out := SchemaSummary{
		Entity:      s.LogicalName,
		Description: s.Description,
		Virtual:     s.Virtual,
		Ownership:   string(s.Ownership),
		Attributes:  []AttributeSummary{},
	}

	rs := s.Restrictions
	for _, r := range []struct {
		on   bool
		name string
	}{
		{rs.DisableCreate, "create"},
		{rs.DisableUpdate, "update"},
		{rs.DisableDelete, "delete"},
		{rs.DisableIndex, "index"},
	} {
		if r.on {
			out.Restrictions = append(out.Restrictions, r.name)
		}
	}

	for _, name := range schema.SortedAttributeNames(s) {
		a := s.Attributes[name]
		out.Attributes = append(out.Attributes, AttributeSummary{
			Name:       name,
			Type:       string(a.Type),
			Entity:     a.Entity,
			Behavior:   string(a.Behavior),
			Required:   a.Required,
			Values:     a.Values,
			AutoNumber: a.AutoNumber != nil,
			Default:    a.Default != nil,
			System:     s.IsSystemAttribute(name),
		})
	}

	return out
}

// NewLoggingMiddleware logs requests at debug, skipping health and metrics
// endpoints.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			switch r.URL.Path {
			case "/healthz", "/readyz", metricsPath:
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
