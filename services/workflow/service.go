package workflow

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fluxpanel/workflow-engine/pkg/metrics"
	"github.com/fluxpanel/workflow-engine/services/nodes"
	"github.com/fluxpanel/workflow-engine/services/storage"
)

type contextKey string

const (
	requestIDKey contextKey = "requestID"
	userIDKey    contextKey = "userID"
)

// Service handles HTTP requests for the run orchestrator's external
// interfaces (Execute, history query, assembly resolve). It depends on the
// Storage interface rather than a concrete implementation, keeping the HTTP
// layer decoupled from persistence.
type Service struct {
	storage storage.Storage
	deps    nodes.Deps
	metrics *metrics.Metrics
}

// ServiceOption configures optional Service dependencies at construction
// time, keeping the common two-argument NewService call working for
// callers (tests, mostly) that don't need them.
type ServiceOption func(*Service)

// WithMetrics attaches a Metrics instance recording step latency, in-flight
// node count and level size during run execution; the engine does not
// increment the retries counter. Omitting this option leaves instrumentation
// disabled; Metrics methods are nil-safe.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a workflow Service with the given storage backend and
// the node executor dependencies (remote task client, asset persister).
func NewService(store storage.Storage, deps nodes.Deps, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("service: store cannot be nil")
	}
	s := &Service{storage: store, deps: deps}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// requestIDMiddleware assigns a unique ID to each request for log
// correlation. If the client sends X-Request-ID, it's reused; otherwise a
// new UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller from X-User-ID, the header the
// upstream authentication provider (out of scope for this core) is
// expected to set after verifying the caller's session. A missing or
// malformed header is a 401, not a panic deeper in a handler.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			writeAPIError(w, apiUnauthorized())
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func reqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

func callerID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.NewRoute().Subrouter()
	router.StrictSlash(false)
	router.Use(requestIDMiddleware)
	router.Use(jsonMiddleware)
	router.Use(authMiddleware)

	router.HandleFunc("/execute", s.HandleExecuteWorkflow).Methods("POST")
	router.HandleFunc("/runs", s.HandleListRuns).Methods("GET")
	router.HandleFunc("/runs/{runId}", s.HandleGetRun).Methods("GET")
	router.HandleFunc("/assets/resolve", s.HandleResolveAssembly).Methods("GET")
}
