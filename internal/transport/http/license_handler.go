package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vendcli/internal/config"
	apierrors "vendcli/internal/errors"
	"vendcli/internal/infrastructure"
	"vendcli/internal/license"
)

// LicenseHandler serves the license surface: activation, status, and
// deactivation. These routes are excluded from the license gate so an
// unlicensed installation can always reach them.
type LicenseHandler struct {
	service  *license.Service
	cfg      config.LicensingConfig
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service *license.Service, cfg config.LicensingConfig, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		cfg:      cfg,
		logger:   logger.With(slog.String("handler", "license")),
		validate: validator.New(),
	}
}

// ActivationRequest is the body of POST /api/license/activate. Tenant and
// device default to the configured installation identity when omitted.
type ActivationRequest struct {
	TenantID   string `json:"tenant_id" validate:"omitempty,min=1"`
	DeviceID   string `json:"device_id" validate:"omitempty,min=1"`
	LicenseKey string `json:"license_key" validate:"required,min=8"`
}

// Bind implements the render.Binder interface
func (a *ActivationRequest) Bind(r *http.Request) error {
	return nil
}

// ActivationResponse is the body returned by a successful activation
type ActivationResponse struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	Plan         string    `json:"plan"`
	ExpiresAt    time.Time `json:"expires_at"`
	GraceDays    int       `json:"grace_days"`
	Entitlements []string  `json:"entitlements,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StatusResponse wraps the resolved status with request correlation
type StatusResponse struct {
	license.Status
	TraceID string `json:"trace_id,omitempty"`
}

// Routes returns a chi router for the license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/activate", h.Activate)
	r.Get("/status", h.GetStatus)
	r.Delete("/", h.Deactivate)

	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")
	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/activate"),
		),
	)
	defer span.End()

	traceID := h.traceID(ctx)

	var req ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		_ = render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.logger.WarnContext(ctx, "activation request failed validation",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()),
		)
		_ = render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = h.cfg.TenantID
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = h.cfg.DeviceID
	}
	if tenantID == "" || deviceID == "" {
		_ = render.Render(w, r, apierrors.ErrValidation("tenant_id",
			"no installation identity is configured; tenant_id and device_id are required"))
		return
	}

	start := time.Now()
	result, err := h.service.Activate(ctx, tenantID, deviceID, req.LicenseKey)
	span.SetAttributes(
		attribute.Int64("request.latency_ms", time.Since(start).Milliseconds()),
		attribute.Bool("request.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		h.renderServiceError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license activated via api",
		slog.String("trace_id", traceID),
		slog.String("tenant_id", tenantID),
		slog.String("plan", result.Plan),
		slog.Time("expires_at", result.ExpiresAt),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ActivationResponse{
		Success:      true,
		Message:      "license activated",
		Plan:         result.Plan,
		ExpiresAt:    result.ExpiresAt,
		GraceDays:    result.GraceDays,
		Entitlements: result.Entitlements,
		TraceID:      traceID,
		Timestamp:    time.Now().UTC(),
	})
}

// GetStatus handles GET /api/license/status. With ?refresh=true the status
// is first refreshed through the Hub; a refresh failure degrades to the
// locally derived answer.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	refresh := r.URL.Query().Get("refresh") == "true"

	st := h.service.CheckStatus(ctx, refresh)

	h.logger.DebugContext(ctx, "license status answered",
		slog.String("trace_id", h.traceID(ctx)),
		slog.String("state", string(st.State)),
		slog.Bool("refresh", refresh),
		slog.Bool("cached", st.Cached),
	)

	render.JSON(w, r, StatusResponse{Status: st, TraceID: h.traceID(ctx)})
}

// Deactivate handles DELETE /api/license
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Deactivate(ctx); err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"success":  true,
		"message":  "license deactivated",
		"trace_id": h.traceID(ctx),
	})
}

func (h *LicenseHandler) traceID(ctx context.Context) string {
	return infrastructure.TraceIDFromContext(ctx)
}

// renderServiceError maps domain errors onto API error responses
func (h *LicenseHandler) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierrors.APIError
	switch {
	case errors.Is(err, license.ErrLicenseNotFound):
		apiErr = apierrors.ErrLicenseNotFound
	case errors.Is(err, license.ErrInvalidParameters):
		apiErr = apierrors.InvalidRequestWithError(err)
	case errors.Is(err, license.ErrTooManyAttempts):
		apiErr = apierrors.ErrRateLimitExceeded
	case errors.Is(err, license.ErrNetworkFailure):
		apiErr = apierrors.ErrHubUnavailable
	case errors.Is(err, license.ErrTokenInvalid):
		apiErr = apierrors.New(http.StatusBadGateway, "INVALID_HUB_TOKEN",
			"The licensing hub issued a token this installation could not verify")
	case errors.Is(err, license.ErrMissingIdentity):
		apiErr = apierrors.ErrValidation("tenant_id", "installation identity is not configured")
	case errors.Is(err, license.ErrStorageUnavailable):
		apiErr = apierrors.New(http.StatusInternalServerError, "STORAGE_UNAVAILABLE",
			"The license credential could not be persisted")
	default:
		apiErr = apierrors.ErrInternalServer
	}

	h.logger.WarnContext(r.Context(), "license request failed",
		slog.String("trace_id", h.traceID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Int("status", apiErr.StatusCode),
		slog.String("error", err.Error()),
	)
	_ = render.Render(w, r, apiErr)
}
