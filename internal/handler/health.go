package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/leetstack/keygate/internal/model"
)

// Pinger reports whether the credential store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store   Pinger
	logger  *slog.Logger
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. Readiness pings are bounded by
// a two second timeout.
func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{store: store, logger: logger, timeout: 2 * time.Second}
}

// Healthz reports that the process is serving.
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok"})
}

// Readyz reports whether the credential store answers a ping.
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		// Driver errors can name hosts; they stay in the log.
		h.logger.ErrorContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, model.HealthResponse{
			Status: "unavailable",
			Store:  "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok", Store: "ok"})
}
