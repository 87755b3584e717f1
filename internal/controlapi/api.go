package controlapi

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tessera-crm/tessera/internal/cache"
	"github.com/tessera-crm/tessera/internal/observability"
	"github.com/tessera-crm/tessera/internal/store"
	"github.com/tessera-crm/tessera/internal/validation"
)

// Materializer is the slice of the recalculation service the API drives
// synchronously.
type Materializer interface {
	Recalculate(ctx context.Context, id uuid.UUID) (int64, error)
}

// API holds dependencies and the router for the segmentation REST surface.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// segments is the data access layer for segment definitions and
	// membership. The interface type allows mocking in unit tests.
	segments store.SegmentRepository

	// materializer rebuilds membership synchronously on create, update and
	// on-demand recalculation.
	materializer Materializer

	// queue carries asynchronous recalculate-all triggers to the worker.
	queue cache.Queue

	// metrics records HTTP and per-segment gauges. May be nil in tests.
	metrics *observability.Metrics

	// apiKeyHash is the SHA-256 hash of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments
	// only).
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled.
// The apiKeyHash parameter must be the SHA-256 hash of the API key.
func NewAPI(segments store.SegmentRepository, mat Materializer, queue cache.Queue, metrics *observability.Metrics, apiKeyHash string) *API {
	return NewAPIWithConfig(segments, mat, queue, metrics, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over
// authentication. Used by tests to disable the API key check.
//
// Panics if a dependency is nil, or if apiKeyHash is empty while skipAuth is
// false.
func NewAPIWithConfig(segments store.SegmentRepository, mat Materializer, queue cache.Queue, metrics *observability.Metrics, apiKeyHash string, skipAuth bool) *API {
	validation.AssertNotNil(segments, "segment repository")
	validation.AssertNotNil(mat, "materializer")
	validation.AssertNotNil(queue, "queue")

	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:       chi.NewRouter(),
		segments:     segments,
		materializer: mat,
		queue:        queue,
		metrics:      metrics,
		apiKeyHash:   apiKeyHash,
		skipAuth:     skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))
	if a.metrics != nil {
		a.Router.Use(MetricsRecorder(a.metrics))
	}

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/segments", func(r chi.Router) {
			r.Post("/", a.handleCreateSegment)
			r.Get("/", a.handleListSegments)

			// Literal routes before the {id} wildcard.
			r.Get("/stats", a.handleSegmentStats)
			r.Get("/fields", a.handleListFields)
			r.Post("/recalculate-all", a.handleRecalculateAll)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetSegment)
				r.Patch("/", a.handleUpdateSegment)
				r.Delete("/", a.handleDeleteSegment)
				r.Post("/recalculate", a.handleRecalculateSegment)
				r.Get("/customers", a.handleListMembers)
			})
		})
	})
}
