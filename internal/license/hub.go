package license

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// HubConfig carries the connection knobs for the licensing Hub
type HubConfig struct {
	BaseURL string
	Timeout time.Duration
}

// activateRequest is the body of POST /licenses/activate. The same call
// serves first activation (with a license key) and renewal (without).
type activateRequest struct {
	TenantID   string `json:"tenantId"`
	DeviceID   string `json:"deviceId"`
	LicenseKey string `json:"licenseKey,omitempty"`
}

type activateResponse struct {
	LicenseToken string `json:"licenseToken"`
}

// hubErrorResponse is the error body the Hub returns with non-2xx codes
type hubErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HubClient talks to the licensing Hub. Calls carry the configured timeout
// and are never retried here; the renewal scheduler's next tick is the
// retry mechanism.
type HubClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHubClient creates a Hub client for the given endpoint
func NewHubClient(cfg HubConfig, logger *slog.Logger) *HubClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "venddesk-license-client")

	return &HubClient{
		client: client,
		// Activation attempts are rate limited per process: brute-forcing
		// license keys through a local install should be slow.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		logger:  logger.With(slog.String("component", "hub_client")),
	}
}

// Activate requests a signed license token for the installation. The
// returned error wraps ErrLicenseNotFound (404), ErrInvalidParameters
// (400), or ErrNetworkFailure (transport and unexpected statuses) so the
// caller can distinguish them.
func (h *HubClient) Activate(ctx context.Context, tenantID, deviceID, licenseKey string) (string, error) {
	if !h.limiter.Allow() {
		return "", ErrTooManyAttempts
	}

	var (
		out    activateResponse
		hubErr hubErrorResponse
	)

	start := time.Now()
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(activateRequest{TenantID: tenantID, DeviceID: deviceID, LicenseKey: licenseKey}).
		SetResult(&out).
		SetError(&hubErr).
		Post("/licenses/activate")
	if err != nil {
		h.logger.Warn("hub activation call failed",
			slog.String("tenant_id", tenantID),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}

	h.logger.Debug("hub activation call completed",
		slog.String("tenant_id", tenantID),
		slog.Int("status", resp.StatusCode()),
		slog.Duration("elapsed", time.Since(start)),
	)

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		if out.LicenseToken == "" {
			return "", fmt.Errorf("%w: hub response carried no token", ErrTokenInvalid)
		}
		return out.LicenseToken, nil
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrLicenseNotFound, hubErrDetail(hubErr, "the hub does not know this tenant or license key"))
	case http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", ErrInvalidParameters, hubErrDetail(hubErr, "the hub rejected the activation parameters"))
	default:
		return "", fmt.Errorf("%w: hub returned unexpected status %d", ErrNetworkFailure, resp.StatusCode())
	}
}

func hubErrDetail(e hubErrorResponse, fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}
