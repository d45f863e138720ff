package handlers

import (
	"net/http"
	"time"

	"github.com/hongminglow/tours-be/internal/http/respond"
)

// HealthHandler returns uptime and basic status.
type HealthHandler struct {
	startedAt time.Time
	version   string
}

// NewHealthHandler creates a health endpoint handler.
func NewHealthHandler(startedAt time.Time, version string) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, version: version}
}

// Register wires the handler into a ServeMux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handle)
}

func (h *HealthHandler) handle(w http.ResponseWriter, _ *http.Request) {
	respond.Success(w, http.StatusOK, map[string]string{
		"uptime":  time.Since(h.startedAt).Truncate(time.Second).String(),
		"version": h.version,
	})
}
