// Package server implements the HTTP facade over the configured blob stores.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/s3blob/internal/config"
	"github.com/bleepstore/s3blob/internal/storage"
)

// Server routes /v1/{store}/{path...} requests to the blob stores of a
// registry.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	stores     *storage.Registry
	logger     *slog.Logger
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string            `json:"status" example:"ok" doc:"Health status"`
	Stores map[string]string `json:"stores,omitempty" doc:"Failing stores and their errors"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server over stores and wires up all routes on the Chi
// router with Huma API.
func New(cfg *config.Config, stores *storage.Registry, opts ...Option) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("s3blob API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		stores: stores,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> RequestID -> commonHeaders -> Recoverer ->
// transferEncodingCheck -> metadataHeaderMiddleware -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = metadataHeaderMiddleware(handler)
	handler = transferEncodingCheck(handler)
	handler = middleware.Recoverer(handler)
	handler = commonHeaders(handler)
	handler = middleware.RequestID(handler)
	if s.cfg.Metrics.Enabled {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Probes every configured store. Responds 503 if any store is unreachable.",
		Tags:        []string{"System"},
	}, s.health)

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Get("/v1", s.listStores)
	s.router.Get("/v1/", s.listStores)
	s.router.HandleFunc("/v1/{store}", s.dispatch)
	s.router.HandleFunc("/v1/{store}/*", s.dispatch)
}

func (s *Server) health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: "ok"}}
	failed := s.stores.Check(ctx)
	if len(failed) == 0 {
		return out, nil
	}
	out.Status = http.StatusServiceUnavailable
	out.Body.Status = "degraded"
	out.Body.Stores = make(map[string]string, len(failed))
	for name, err := range failed {
		s.logger.Warn("Store health check failed", "store", name, "error", err)
		out.Body.Stores[name] = err.Error()
	}
	return out, nil
}

// parseTarget extracts the store name and blob path from a request path.
// Returns ("s", "") for "/v1/s" and "/v1/s/", and ("s", "a/b") for
// "/v1/s/a/b".
func parseTarget(path string) (store, blob string) {
	rest := strings.TrimPrefix(path, "/v1/")
	store, blob, _ = strings.Cut(rest, "/")
	return store, blob
}

// dispatch routes a blob request by HTTP method and query parameters.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	name, raw := parseTarget(r.URL.Path)
	backend, ok := s.stores.Get(name)
	if !ok {
		writeError(w, r, s.logger, errUnknownStore(name))
		return
	}
	p, err := parsePath(raw)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	q := r.URL.Query()

	switch r.Method {
	case http.MethodGet:
		if q.Has("list") {
			s.listBlobs(w, r, backend, p)
		} else {
			s.getBlob(w, r, backend, p, true)
		}
	case http.MethodHead:
		s.getBlob(w, r, backend, p, false)
	case http.MethodPut:
		if r.Header.Get(headerCopySource) != "" {
			s.copyBlob(w, r, backend, p)
		} else {
			s.putBlob(w, r, backend, p)
		}
	case http.MethodDelete:
		if q.Has("recursive") {
			s.deleteTree(w, r, backend, p)
		} else {
			s.deleteBlob(w, r, backend, p)
		}
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.Method+" is not supported")
	}
}
