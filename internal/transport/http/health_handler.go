package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"vendcli/internal/license"
)

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildID   string `json:"build_id"`
}

// HealthHandler answers health, liveness, and version requests. Health
// includes the last derived license state as an operational signal; it is
// read from the in-memory snapshot and never triggers a Hub call.
type HealthHandler struct {
	build   BuildInfo
	service *license.Service
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(build BuildInfo, service *license.Service, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		build:   build,
		service: service,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.service.Snapshot(r.Context())
	render.JSON(w, r, map[string]any{
		"status":         "ok",
		"version":        h.build.Version,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"license_state":  st.State,
		"timestamp":      time.Now().UTC(),
	})
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"status": "alive"})
}

// ReadinessCheck handles GET /api/health/ready. The process is ready as
// soon as it serves requests; an unlicensed installation is still ready,
// it just answers 428 on guarded routes.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"status": "ready"})
}

// Version handles GET /api/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.build)
}
