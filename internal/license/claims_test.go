package license

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graceDaysPtr(n int) *int { return &n }

func TestClaimsValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	base := func() Claims {
		return Claims{
			TenantID:  "tenant-1",
			DeviceID:  "device-1",
			Plan:      "pro",
			GraceDays: graceDaysPtr(7),
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(30 * 24 * time.Hour)),
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Claims)
		wantErr string
	}{
		{
			name:   "valid claims pass",
			mutate: func(c *Claims) {},
		},
		{
			name:    "missing tenant",
			mutate:  func(c *Claims) { c.TenantID = "" },
			wantErr: "tenant_id",
		},
		{
			name:    "missing device",
			mutate:  func(c *Claims) { c.DeviceID = "" },
			wantErr: "device_id",
		},
		{
			name:    "missing iat",
			mutate:  func(c *Claims) { c.IssuedAt = nil },
			wantErr: "iat",
		},
		{
			name:    "missing exp",
			mutate:  func(c *Claims) { c.ExpiresAt = nil },
			wantErr: "exp",
		},
		{
			name:    "exp before iat",
			mutate:  func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour)) },
			wantErr: "not after",
		},
		{
			name:    "exp equal to iat",
			mutate:  func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(now) },
			wantErr: "not after",
		},
		{
			name:    "negative grace days",
			mutate:  func(c *Claims) { c.GraceDays = graceDaysPtr(-1) },
			wantErr: "grace_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClaimsGracePeriod(t *testing.T) {
	c := Claims{GraceDays: graceDaysPtr(14)}
	assert.Equal(t, 14*24*time.Hour, c.GracePeriod(7))

	// A token without its own grace window uses the configured fallback
	c.GraceDays = nil
	assert.Equal(t, 7*24*time.Hour, c.GracePeriod(7))
	assert.Equal(t, time.Duration(0), c.GracePeriod(0))

	// An explicit zero is a real grant of zero, not an omission
	c.GraceDays = graceDaysPtr(0)
	assert.Equal(t, time.Duration(0), c.GracePeriod(7))
	assert.Equal(t, 0, c.GraceDaysOr(7))
}

func TestClaimsHasEntitlement(t *testing.T) {
	c := Claims{Entitlements: []string{"pos", "inventory"}}
	assert.True(t, c.HasEntitlement("pos"))
	assert.True(t, c.HasEntitlement("inventory"))
	assert.False(t, c.HasEntitlement("reporting"))

	empty := Claims{}
	assert.False(t, empty.HasEntitlement("pos"))
}
