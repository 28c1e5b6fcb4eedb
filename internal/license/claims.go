package license

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded payload of a license token. Claims are minted only
// by the Hub; the client decodes and validates them but never constructs
// its own. Immutable once decoded.
type Claims struct {
	TenantID     string   `json:"tenant_id"`
	DeviceID     string   `json:"device_id"`
	Plan         string   `json:"plan"`
	Entitlements []string `json:"entitlements"`
	GraceDays    *int     `json:"grace_days,omitempty"`
	jwt.RegisteredClaims
}

// validate enforces the structural invariants of a decoded token. A token
// that fails here is treated exactly like a signature mismatch.
func (c *Claims) validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("missing tenant_id claim")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("missing device_id claim")
	}
	if c.IssuedAt == nil {
		return fmt.Errorf("missing iat claim")
	}
	if c.ExpiresAt == nil {
		return fmt.Errorf("missing exp claim")
	}
	if !c.ExpiresAt.After(c.IssuedAt.Time) {
		return fmt.Errorf("exp %s is not after iat %s", c.ExpiresAt.Format(time.RFC3339), c.IssuedAt.Format(time.RFC3339))
	}
	if c.GraceDays != nil && *c.GraceDays < 0 {
		return fmt.Errorf("negative grace_days %d", *c.GraceDays)
	}
	return nil
}

// Expiry returns the expiration instant of the license
func (c *Claims) Expiry() time.Time {
	return c.ExpiresAt.Time
}

// GraceDaysOr returns the grace_days claim, or fallback when the token
// carries none. An explicit zero in the token stays zero.
func (c *Claims) GraceDaysOr(fallback int) int {
	if c.GraceDays == nil {
		return fallback
	}
	return *c.GraceDays
}

// GracePeriod returns the offline grace window as a duration. Tokens that
// carry no grace_days fall back to the configured OFFLINE_GRACE_DAYS.
func (c *Claims) GracePeriod(fallbackDays int) time.Duration {
	return time.Duration(c.GraceDaysOr(fallbackDays)) * 24 * time.Hour
}

// HasEntitlement reports whether the license grants the named capability
func (c *Claims) HasEntitlement(name string) bool {
	for _, e := range c.Entitlements {
		if e == name {
			return true
		}
	}
	return false
}
