package license

import (
	"context"
	"log/slog"
	"time"
)

// startupGraceFactor extends the grace window for the boot gate: the
// process may still start (to present the renewal flow) for twice the
// grace period past expiry. Inherited behavior, kept exactly as-is; see
// DESIGN.md for the policy note.
const startupGraceFactor = 2

// StartupDecision is the boot gate's verdict, computed once at startup
type StartupDecision struct {
	CanStart      bool   `json:"can_start"`
	Status        Status `json:"status"`
	Message       string `json:"message"`
	RequiresSetup bool   `json:"requires_setup,omitempty"`
	ShowWarning   bool   `json:"show_warning,omitempty"`
}

// denialMessages maps a denied state to its user-facing reason
var denialMessages = map[State]string{
	StateNotRegistered: "This installation is not registered. Please register it first",
	StateNotLicensed:   "No license is active for this installation. Please purchase a license",
	StateExpired:       "Your license has expired. Please renew your license",
	StateError:         "License status could not be determined. Please try again",
}

// StartupCheck gates process boot. Startup is denied only for a license
// that is expired past the extended grace window, or for a status the
// gate does not recognize; every other status lets the application start
// so the setup/activation flow stays reachable.
func StartupCheck(st Status, now time.Time) StartupDecision {
	switch st.State {
	case StateDevelopment, StateActive:
		return StartupDecision{CanStart: true, Status: st, Message: st.Message}
	case StateOfflineGrace:
		return StartupDecision{
			CanStart:    true,
			Status:      st,
			Message:     st.Message,
			ShowWarning: true,
		}
	case StateNotRegistered, StateNotLicensed, StateError:
		return StartupDecision{
			CanStart:      true,
			Status:        st,
			Message:       st.Message,
			RequiresSetup: true,
		}
	case StateExpired:
		extendedEnd := st.ExpiresAt.Add(startupGraceFactor * time.Duration(st.GraceDays) * 24 * time.Hour)
		if st.ExpiresAt.IsZero() || now.After(extendedEnd) {
			return StartupDecision{
				CanStart:      false,
				Status:        st,
				Message:       denialMessages[StateExpired],
				RequiresSetup: true,
			}
		}
		return StartupDecision{
			CanStart:      true,
			Status:        st,
			Message:       st.Message,
			RequiresSetup: true,
			ShowWarning:   true,
		}
	default:
		// Unrecognized statuses fail closed at the boot gate
		return StartupDecision{
			CanStart: false,
			Status:   st,
			Message:  "unrecognized license status",
		}
	}
}

// AccessError is the denial a request guard returns. The transport layer
// maps it onto an authorization response.
type AccessError struct {
	State   State
	Message string
}

func (e *AccessError) Error() string {
	return e.Message
}

// Guard is the per-request decision point. Two constructors give the two
// enforcement postures; both consult the service's cached status only and
// never block on the network.
type Guard struct {
	svc      *Service
	enforced bool
	logger   *slog.Logger
	metrics  *Metrics
}

// NewStrictGuard returns a guard with enforcement on by default. Protects
// the business surfaces.
func NewStrictGuard(svc *Service, logger *slog.Logger) *Guard {
	return newGuard(svc, logger, true)
}

// NewOptionalGuard returns a guard with enforcement off by default. Used
// for surfaces that only warn, or for deployments that opt in later.
func NewOptionalGuard(svc *Service, logger *slog.Logger) *Guard {
	return newGuard(svc, logger, false)
}

func newGuard(svc *Service, logger *slog.Logger, enforced bool) *Guard {
	return &Guard{
		svc:      svc,
		enforced: enforced,
		logger:   logger.With(slog.String("component", "license_guard")),
	}
}

// SetEnforced flips the guard's enforcement posture
func (g *Guard) SetEnforced(enforced bool) {
	g.enforced = enforced
}

// SetMetrics attaches the OpenTelemetry instruments
func (g *Guard) SetMetrics(m *Metrics) {
	g.metrics = m
}

// Allow decides whether the current request may proceed. When enforcement
// is off it always allows. Unlike the boot gate, unknown statuses deny
// here; only the setup routes excluded at the router stay reachable.
func (g *Guard) Allow(ctx context.Context) error {
	if !g.enforced {
		return nil
	}

	st := g.svc.CheckStatus(ctx, false)
	if st.Valid {
		return nil
	}

	msg, ok := denialMessages[st.State]
	if !ok {
		msg = denialMessages[StateError]
	}

	g.metrics.recordDenial(ctx, st.State)
	g.logger.InfoContext(ctx, "request denied by license guard",
		slog.String("state", string(st.State)),
		slog.String("message", msg),
	)
	return &AccessError{State: st.State, Message: msg}
}
