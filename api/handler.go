// Package api provides the Admin HTTP API for ESGBridge webhook and sync
// management.
//
// All routes are mounted under a configurable prefix (default: /esgbridge).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	esgbridge "github.com/verdantiq/esgbridge"
	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/reconcile"
	"github.com/verdantiq/esgbridge/store"
	"github.com/verdantiq/esgbridge/subscription"
)

// Handler is the root HTTP handler for the ESGBridge admin API.
type Handler struct {
	bridge     *esgbridge.Bridge
	store      store.Store
	subSvc     *subscription.Service
	connSvc    *connector.Service
	registry   *canonical.Registry
	reconciler *reconcile.Engine
	dispatcher *delivery.Dispatcher
	logger     *slog.Logger
	mux        *http.ServeMux
}

// NewHandler creates a new admin API handler on top of a Bridge.
func NewHandler(b *esgbridge.Bridge, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		bridge:     b,
		store:      b.Store(),
		subSvc:     b.Subscriptions(),
		connSvc:    b.Connectors(),
		registry:   b.Registry(),
		reconciler: b.Reconciler(),
		dispatcher: b.Dispatcher(),
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Subscriptions
	h.mux.HandleFunc("POST /subscriptions", h.createSubscription)
	h.mux.HandleFunc("GET /subscriptions", h.listSubscriptions)
	h.mux.HandleFunc("GET /subscriptions/{id}", h.getSubscription)
	h.mux.HandleFunc("PUT /subscriptions/{id}", h.updateSubscription)
	h.mux.HandleFunc("DELETE /subscriptions/{id}", h.deleteSubscription)
	h.mux.HandleFunc("POST /subscriptions/{id}/verify", h.verifySubscription)
	h.mux.HandleFunc("PATCH /subscriptions/{id}/pause", h.pauseSubscription)
	h.mux.HandleFunc("PATCH /subscriptions/{id}/resume", h.resumeSubscription)
	h.mux.HandleFunc("PATCH /subscriptions/{id}/disable", h.disableSubscription)
	h.mux.HandleFunc("PATCH /subscriptions/{id}/reactivate", h.reactivateSubscription)
	h.mux.HandleFunc("POST /subscriptions/{id}/rotate-secret", h.rotateSecret)

	// Events
	h.mux.HandleFunc("POST /events", h.publishEvent)
	h.mux.HandleFunc("GET /events", h.listEvents)
	h.mux.HandleFunc("GET /events/{id}", h.getEvent)

	// Deliveries
	h.mux.HandleFunc("GET /subscriptions/{id}/deliveries", h.listDeliveries)
	h.mux.HandleFunc("GET /events/{id}/deliveries", h.listEventDeliveries)
	h.mux.HandleFunc("GET /deliveries/{id}", h.getDelivery)
	h.mux.HandleFunc("POST /deliveries/{id}/attempt", h.attemptDelivery)
	h.mux.HandleFunc("POST /deliveries/{id}/replay", h.replayDelivery)

	// Connectors
	h.mux.HandleFunc("POST /connectors", h.createConnector)
	h.mux.HandleFunc("GET /connectors", h.listConnectors)
	h.mux.HandleFunc("GET /connectors/{id}", h.getConnector)
	h.mux.HandleFunc("PUT /connectors/{id}", h.updateConnector)
	h.mux.HandleFunc("DELETE /connectors/{id}", h.deleteConnector)

	// Schema versions
	h.mux.HandleFunc("POST /schemas/{entityType}/versions", h.createSchemaVersion)
	h.mux.HandleFunc("GET /schemas/{entityType}/versions", h.listSchemaVersions)
	h.mux.HandleFunc("GET /schemas/{entityType}/versions/{version}", h.getSchemaVersion)
	h.mux.HandleFunc("PATCH /schemas/{entityType}/versions/{version}/deprecate", h.deprecateSchemaVersion)
	h.mux.HandleFunc("GET /schemas/{entityType}/compatibility", h.checkCompatibility)

	// Mappings
	h.mux.HandleFunc("POST /connectors/{id}/mappings", h.createMapping)
	h.mux.HandleFunc("GET /connectors/{id}/mappings", h.listMappings)
	h.mux.HandleFunc("PATCH /mappings/{id}/activate", h.activateMapping)
	h.mux.HandleFunc("PATCH /mappings/{id}/deactivate", h.deactivateMapping)
	h.mux.HandleFunc("DELETE /mappings/{id}", h.deleteMapping)

	// Canonical entities
	h.mux.HandleFunc("GET /entities", h.listEntities)
	h.mux.HandleFunc("GET /entities/{id}", h.getEntity)
	h.mux.HandleFunc("POST /entities/{id}/approve", h.approveEntity)
	h.mux.HandleFunc("POST /entities/{id}/unapprove", h.unapproveEntity)

	// Sync
	h.mux.HandleFunc("POST /sync", h.reconcileRecord)
	h.mux.HandleFunc("GET /sync-records", h.listSyncRecords)
	h.mux.HandleFunc("GET /sync-records/{id}", h.getSyncRecord)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}
