package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apierrors "vendcli/internal/errors"
	"vendcli/internal/license"
)

// LicenseGate enforces the license on business routes. The activation and
// status surface stays reachable through the exclusion lists, so an
// unlicensed installation can always fix itself.
type LicenseGate struct {
	guard           *license.Guard
	logger          *slog.Logger
	excludePaths    []string
	excludePrefixes []string
}

// NewLicenseGate creates the gate with the default exclusions: the license
// surface itself, health, version, and metrics.
func NewLicenseGate(guard *license.Guard, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		guard:  guard,
		logger: logger.With(slog.String("component", "license_gate")),
		excludePaths: []string{
			"/",
			"/api/health",
			"/api/health/ready",
			"/api/health/live",
			"/api/version",
			"/metrics",
			"/favicon.ico",
		},
		excludePrefixes: []string{
			"/api/license",
		},
	}
}

// AddExcludePath exempts one exact path from license enforcement
func (g *LicenseGate) AddExcludePath(path string) {
	g.excludePaths = append(g.excludePaths, path)
}

// AddExcludePrefix exempts a whole path prefix from license enforcement
func (g *LicenseGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

// Handler returns the middleware. Guarded requests consult the service's
// cached status; no request ever waits on the Hub here.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		err := g.guard.Allow(ctx)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		traceID := GetRequestID(ctx)

		var accessErr *license.AccessError
		if !errors.As(err, &accessErr) {
			g.logger.ErrorContext(ctx, "license guard returned an unexpected error",
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID),
				slog.String("error", err.Error()),
			)
			_ = render.Render(w, r, apierrors.ErrInternalServer)
			return
		}

		g.logger.InfoContext(ctx, "request blocked by license gate",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.String("state", string(accessErr.State)),
			slog.String("trace_id", traceID),
		)
		_ = render.Render(w, r, denialError(accessErr))
	})
}

func (g *LicenseGate) excluded(path string) bool {
	for _, p := range g.excludePaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// denialError maps a guard denial onto the API error vocabulary. Missing
// setup answers 428 so clients know activation is the precondition;
// expiry answers 403; anything undetermined answers 503.
func denialError(accessErr *license.AccessError) *apierrors.APIError {
	switch accessErr.State {
	case license.StateNotRegistered, license.StateNotLicensed:
		return apierrors.NewWithDetails(http.StatusPreconditionRequired,
			"LICENSE_NOT_ACTIVATED", accessErr.Message, string(accessErr.State))
	case license.StateExpired:
		return apierrors.LicenseDenied(string(accessErr.State), accessErr.Message)
	default:
		return apierrors.NewWithDetails(http.StatusServiceUnavailable,
			"LICENSE_STATUS_UNKNOWN", accessErr.Message, string(accessErr.State))
	}
}
