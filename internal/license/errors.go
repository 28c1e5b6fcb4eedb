package license

import "errors"

// Error taxonomy for license operations. Callers match with errors.Is; the
// transport layer maps these onto API error responses.
var (
	// ErrTokenInvalid marks a malformed token or a signature mismatch.
	// Treated everywhere as "no valid token": the subsystem fails closed.
	ErrTokenInvalid = errors.New("license token invalid")

	// ErrStorageUnavailable marks a credential write that no backend could
	// take. Reads never surface it; an unreadable record is simply absent.
	ErrStorageUnavailable = errors.New("credential storage unavailable")

	// ErrNetworkFailure marks an unreachable Hub. Interactive activation
	// surfaces it; background renewal and status checks must leave the
	// previously derived status untouched when they hit it.
	ErrNetworkFailure = errors.New("licensing hub unreachable")

	// ErrLicenseNotFound corresponds to the Hub's 404: unknown tenant or key
	ErrLicenseNotFound = errors.New("tenant or license not found")

	// ErrInvalidParameters corresponds to the Hub's 400
	ErrInvalidParameters = errors.New("invalid activation parameters")

	// ErrNotActivated means no credential is stored for this installation
	ErrNotActivated = errors.New("no license credential stored")

	// ErrMissingIdentity means TENANT_ID/DEVICE_ID are not configured yet
	ErrMissingIdentity = errors.New("tenant or device identity not configured")

	// ErrTooManyAttempts is returned when activation attempts are rate limited
	ErrTooManyAttempts = errors.New("too many activation attempts")
)

// classifyError maps a domain error onto a short label for metrics and logs
func classifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrNetworkFailure):
		return "network"
	case errors.Is(err, ErrLicenseNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage"
	case errors.Is(err, ErrNotActivated):
		return "not_activated"
	case errors.Is(err, ErrMissingIdentity):
		return "missing_identity"
	case errors.Is(err, ErrTooManyAttempts):
		return "rate_limited"
	default:
		return "unknown"
	}
}
