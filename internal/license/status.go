package license

import "time"

// State is the classified license state of an installation
type State string

const (
	// StateDevelopment means enforcement is switched off entirely
	StateDevelopment State = "development"
	// StateNotRegistered means the installation has no tenant/device identity
	StateNotRegistered State = "not_registered"
	// StateNotLicensed means an identity exists but no valid credential does
	StateNotLicensed State = "not_licensed"
	// StateActive means the stored license has not expired
	StateActive State = "active"
	// StateOfflineGrace means the license expired but the grace window still covers it
	StateOfflineGrace State = "offline_grace"
	// StateExpired means both the license and its grace window have elapsed
	StateExpired State = "expired"
	// StateError means the status could not be determined
	StateError State = "error"
)

// Status is the derived license status. It is recomputed on demand from
// the stored credential and the clock, and never persisted.
type Status struct {
	State       State     `json:"state"`
	Valid       bool      `json:"valid"`
	Cached      bool      `json:"cached"`
	NeedsSetup  bool      `json:"needs_setup,omitempty"`
	ShowWarning bool      `json:"show_warning,omitempty"`
	Message     string    `json:"message"`
	Plan        string    `json:"plan,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	GraceDays   int       `json:"grace_days,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Resolve classifies a set of claims against the clock. It is a pure
// function of its inputs:
//
//  1. enforcement off            -> development, valid
//  2. no claims                  -> not_licensed, needs setup
//  3. now <= exp                 -> active, valid
//  4. exp < now <= exp + grace   -> offline_grace, valid, warn
//  5. now >  exp + grace         -> expired, needs setup
//
// graceFallbackDays supplies the grace window for tokens that carry none.
func Resolve(enforced bool, claims *Claims, graceFallbackDays int, now time.Time) Status {
	if !enforced {
		return Status{
			State:     StateDevelopment,
			Valid:     true,
			Message:   "license enforcement is disabled",
			CheckedAt: now,
		}
	}

	if claims == nil {
		return Status{
			State:      StateNotLicensed,
			NeedsSetup: true,
			Message:    "no license is active for this installation",
			CheckedAt:  now,
		}
	}

	expiry := claims.Expiry()
	grace := claims.GracePeriod(graceFallbackDays)
	graceDays := int(grace / (24 * time.Hour))

	switch {
	case !now.After(expiry):
		return Status{
			State:     StateActive,
			Valid:     true,
			Message:   "license active",
			Plan:      claims.Plan,
			ExpiresAt: expiry,
			GraceDays: graceDays,
			CheckedAt: now,
		}
	case !now.After(expiry.Add(grace)):
		return Status{
			State:       StateOfflineGrace,
			Valid:       true,
			ShowWarning: true,
			Message:     "license expired, operating in the offline grace period",
			Plan:        claims.Plan,
			ExpiresAt:   expiry,
			GraceDays:   graceDays,
			CheckedAt:   now,
		}
	default:
		return Status{
			State:      StateExpired,
			NeedsSetup: true,
			Message:    "license and grace period have both elapsed",
			Plan:       claims.Plan,
			ExpiresAt:  expiry,
			GraceDays:  graceDays,
			CheckedAt:  now,
		}
	}
}
