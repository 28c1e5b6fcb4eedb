package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupCheck(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		status       Status
		wantCanStart bool
		wantSetup    bool
		wantWarning  bool
	}{
		{
			name:         "development starts",
			status:       Status{State: StateDevelopment, Valid: true},
			wantCanStart: true,
		},
		{
			name:         "active starts",
			status:       Status{State: StateActive, Valid: true},
			wantCanStart: true,
		},
		{
			name:         "offline grace starts with warning",
			status:       Status{State: StateOfflineGrace, Valid: true},
			wantCanStart: true,
			wantWarning:  true,
		},
		{
			name:         "not registered starts into setup",
			status:       Status{State: StateNotRegistered, NeedsSetup: true},
			wantCanStart: true,
			wantSetup:    true,
		},
		{
			name:         "not licensed starts into setup",
			status:       Status{State: StateNotLicensed, NeedsSetup: true},
			wantCanStart: true,
			wantSetup:    true,
		},
		{
			name:         "error starts into setup",
			status:       Status{State: StateError},
			wantCanStart: true,
			wantSetup:    true,
		},
		{
			name: "expired inside the extended window still starts",
			status: Status{
				State:     StateExpired,
				ExpiresAt: now.Add(-10 * 24 * time.Hour),
				GraceDays: 7,
			},
			wantCanStart: true,
			wantSetup:    true,
			wantWarning:  true,
		},
		{
			name: "expired past the extended window is denied",
			status: Status{
				State:     StateExpired,
				ExpiresAt: now.Add(-15 * 24 * time.Hour),
				GraceDays: 7,
			},
			wantCanStart: false,
			wantSetup:    true,
		},
		{
			name: "expired with no expiry on record is denied",
			status: Status{
				State:     StateExpired,
				GraceDays: 7,
			},
			wantCanStart: false,
			wantSetup:    true,
		},
		{
			name:         "unrecognized state is denied",
			status:       Status{State: State("bogus")},
			wantCanStart: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := StartupCheck(tt.status, now)
			assert.Equal(t, tt.wantCanStart, d.CanStart)
			assert.Equal(t, tt.wantSetup, d.RequiresSetup)
			assert.Equal(t, tt.wantWarning, d.ShowWarning)
			assert.Equal(t, tt.status.State, d.Status.State)
			if !d.CanStart {
				assert.NotEmpty(t, d.Message)
			}
		})
	}
}

func TestStartupCheckExtendedWindowBoundary(t *testing.T) {
	// Expiry plus twice the grace window is the last startable instant
	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st := Status{State: StateExpired, ExpiresAt: expiry, GraceDays: 7}
	boundary := expiry.Add(14 * 24 * time.Hour)

	assert.True(t, StartupCheck(st, boundary).CanStart)
	assert.False(t, StartupCheck(st, boundary.Add(time.Second)).CanStart)
}

func TestStrictGuardByState(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, _ := newHubServer(t, issueTokenHandler(kp, 24*time.Hour, 7))
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())
	guard := NewStrictGuard(svc, discardLogger())
	ctx := context.Background()

	// No credential stored: denied as not licensed
	err := guard.Allow(ctx)
	var accessErr *AccessError
	require.ErrorAs(t, err, &accessErr)
	assert.Equal(t, StateNotLicensed, accessErr.State)
	assert.Contains(t, accessErr.Message, "purchase")

	// Activation opens the gate
	_, err = svc.Activate(ctx, "tenant-1", "device-1", "key")
	require.NoError(t, err)
	require.NoError(t, guard.Allow(ctx))

	// Grace keeps it open, expiry closes it
	base := time.Now()
	svc.now = func() time.Time { return base.Add(3 * 24 * time.Hour) }
	require.NoError(t, guard.Allow(ctx))

	svc.now = func() time.Time { return base.Add(20 * 24 * time.Hour) }
	err = guard.Allow(ctx)
	require.ErrorAs(t, err, &accessErr)
	assert.Equal(t, StateExpired, accessErr.State)
	assert.Contains(t, accessErr.Message, "renew")
}

func TestStrictGuardDeniesUnregistered(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, _ := newHubServer(t, issueTokenHandler(kp, time.Hour, 7))
	cfg := testLicensingConfig()
	cfg.TenantID = ""
	cfg.DeviceID = ""
	svc := newTestService(t, kp, srv.URL, cfg)
	guard := NewStrictGuard(svc, discardLogger())

	err := guard.Allow(context.Background())
	var accessErr *AccessError
	require.ErrorAs(t, err, &accessErr)
	assert.Equal(t, StateNotRegistered, accessErr.State)
	assert.Contains(t, accessErr.Message, "register")
}

func TestOptionalGuardAlwaysAllows(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, calls := newHubServer(t, issueTokenHandler(kp, time.Hour, 7))
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())
	guard := NewOptionalGuard(svc, discardLogger())

	// Nothing activated, still allowed, and no network traffic either
	require.NoError(t, guard.Allow(context.Background()))
	assert.EqualValues(t, 0, calls.Load())

	guard.SetEnforced(true)
	assert.Error(t, guard.Allow(context.Background()))
}

func TestGuardWithEnforcementDisabled(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, _ := newHubServer(t, issueTokenHandler(kp, time.Hour, 7))
	cfg := testLicensingConfig()
	cfg.Enforced = false
	svc := newTestService(t, kp, srv.URL, cfg)

	// A strict guard over a non-enforcing service still allows: the
	// service answers development for every check.
	guard := NewStrictGuard(svc, discardLogger())
	require.NoError(t, guard.Allow(context.Background()))
}
