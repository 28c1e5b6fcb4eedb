package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendcli/internal/config"
)

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	claims := func(exp time.Time, graceDays *int) *Claims {
		return &Claims{
			TenantID:  "tenant-1",
			DeviceID:  "device-1",
			Plan:      "pro",
			GraceDays: graceDays,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(exp.Add(-30 * 24 * time.Hour)),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		}
	}

	tests := []struct {
		name         string
		enforced     bool
		claims       *Claims
		fallbackDays int
		wantState    State
		wantValid    bool
		wantSetup    bool
		wantWarning  bool
	}{
		{
			name:      "enforcement off is development",
			enforced:  false,
			claims:    claims(now.Add(-time.Hour), graceDaysPtr(7)),
			wantState: StateDevelopment,
			wantValid: true,
		},
		{
			name:      "no claims is not licensed",
			enforced:  true,
			claims:    nil,
			wantState: StateNotLicensed,
			wantSetup: true,
		},
		{
			name:      "before expiry is active",
			enforced:  true,
			claims:    claims(now.Add(24*time.Hour), graceDaysPtr(7)),
			wantState: StateActive,
			wantValid: true,
		},
		{
			name:      "expiry instant is still active",
			enforced:  true,
			claims:    claims(now, graceDaysPtr(7)),
			wantState: StateActive,
			wantValid: true,
		},
		{
			name:        "one second past expiry enters grace",
			enforced:    true,
			claims:      claims(now.Add(-time.Second), graceDaysPtr(7)),
			wantState:   StateOfflineGrace,
			wantValid:   true,
			wantWarning: true,
		},
		{
			name:        "grace boundary instant is still grace",
			enforced:    true,
			claims:      claims(now.Add(-7*24*time.Hour), graceDaysPtr(7)),
			wantState:   StateOfflineGrace,
			wantValid:   true,
			wantWarning: true,
		},
		{
			name:      "past grace is expired",
			enforced:  true,
			claims:    claims(now.Add(-7*24*time.Hour).Add(-time.Second), graceDaysPtr(7)),
			wantState: StateExpired,
			wantSetup: true,
		},
		{
			name:         "absent grace_days uses fallback window",
			enforced:     true,
			claims:       claims(now.Add(-2*24*time.Hour), nil),
			fallbackDays: 7,
			wantState:    StateOfflineGrace,
			wantValid:    true,
			wantWarning:  true,
		},
		{
			name:         "explicit zero grace expires immediately",
			enforced:     true,
			claims:       claims(now.Add(-time.Second), graceDaysPtr(0)),
			fallbackDays: 7,
			wantState:    StateExpired,
			wantSetup:    true,
		},
		{
			name:      "no grace anywhere expires immediately",
			enforced:  true,
			claims:    claims(now.Add(-time.Second), nil),
			wantState: StateExpired,
			wantSetup: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Resolve(tt.enforced, tt.claims, tt.fallbackDays, now)
			assert.Equal(t, tt.wantState, st.State)
			assert.Equal(t, tt.wantValid, st.Valid)
			assert.Equal(t, tt.wantSetup, st.NeedsSetup)
			assert.Equal(t, tt.wantWarning, st.ShowWarning)
			assert.Equal(t, now, st.CheckedAt)
		})
	}
}

// signToken mirrors the Hub's minting. It runs inside handler goroutines,
// so it returns the error instead of failing the test directly.
func signToken(kp testKeyPair, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodRS256, &claims).SignedString(kp.private)
}

// issueTokenHandler answers activation calls with a freshly signed token
// for whatever identity the request names
func issueTokenHandler(kp testKeyPair, ttl time.Duration, graceDays int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		claims := testClaims(req.TenantID, req.DeviceID, time.Now(), ttl)
		claims.GraceDays = &graceDays
		token, err := signToken(kp, claims)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activateResponse{LicenseToken: token})
	}
}

func newHubServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testLicensingConfig() config.LicensingConfig {
	return config.LicensingConfig{
		Enforced:           true,
		OfflineGraceDays:   7,
		RenewIntervalHours: 6,
		TenantID:           "tenant-1",
		DeviceID:           "device-1",
	}
}

func newTestService(t *testing.T, kp testKeyPair, hubURL string, cfg config.LicensingConfig) *Service {
	t.Helper()
	verifier, err := NewVerifier(kp.publicPEM, discardLogger())
	require.NoError(t, err)
	store := newStore(testStoreConfig(t), discardLogger(), newFakeKeyring())
	hub := NewHubClient(HubConfig{BaseURL: hubURL, Timeout: 2 * time.Second}, discardLogger())
	return NewService(cfg, store, verifier, hub, discardLogger())
}

func TestServiceActivateAndStatus(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, calls := newHubServer(t, issueTokenHandler(kp, 30*24*time.Hour, 7))
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())
	ctx := context.Background()

	result, err := svc.Activate(ctx, "tenant-1", "device-1", "VEND-1234-5678")
	require.NoError(t, err)
	assert.Equal(t, "pro", result.Plan)
	assert.Equal(t, 7, result.GraceDays)
	assert.Contains(t, result.Entitlements, "pos")
	assert.EqualValues(t, 1, calls.Load())

	st := svc.CheckStatus(ctx, false)
	assert.Equal(t, StateActive, st.State)
	assert.True(t, st.Valid)
	assert.Equal(t, "pro", st.Plan)

	// The snapshot answers without touching storage again
	snap := svc.Snapshot(ctx)
	assert.Equal(t, StateActive, snap.State)
}

func TestServiceActivateRequiresIdentity(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, calls := newHubServer(t, issueTokenHandler(kp, time.Hour, 7))
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())

	_, err := svc.Activate(context.Background(), "", "device-1", "key")
	require.ErrorIs(t, err, ErrInvalidParameters)
	assert.EqualValues(t, 0, calls.Load())
}

func TestServiceActivateHubErrors(t *testing.T) {
	kp := newTestKeyPair(t)

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "unknown license",
			status:  http.StatusNotFound,
			body:    `{"code":"LICENSE_NOT_FOUND","message":"no such license"}`,
			wantErr: ErrLicenseNotFound,
		},
		{
			name:    "rejected parameters",
			status:  http.StatusBadRequest,
			body:    `{"code":"BAD_REQUEST","message":"deviceId is required"}`,
			wantErr: ErrInvalidParameters,
		},
		{
			name:    "hub outage",
			status:  http.StatusInternalServerError,
			body:    `{"code":"INTERNAL","message":"boom"}`,
			wantErr: ErrNetworkFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newHubServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			svc := newTestService(t, kp, srv.URL, testLicensingConfig())

			_, err := svc.Activate(context.Background(), "tenant-1", "device-1", "key")
			require.ErrorIs(t, err, tt.wantErr)

			// A failed activation grants nothing
			st := svc.CheckStatus(context.Background(), false)
			assert.Equal(t, StateNotLicensed, st.State)
			assert.False(t, st.Valid)
		})
	}
}

func TestServiceActivateRejectsMismatchedToken(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, _ := newHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Hub answers with a token minted for a different device
		claims := testClaims("tenant-1", "device-other", time.Now(), time.Hour)
		token, err := signToken(kp, claims)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(activateResponse{LicenseToken: token})
	})
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())

	_, err := svc.Activate(context.Background(), "tenant-1", "device-1", "key")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.CurrentClaims(context.Background())
	assert.ErrorIs(t, err, ErrNotActivated)
}

func TestServiceStatusWithoutIdentity(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, _ := newHubServer(t, issueTokenHandler(kp, time.Hour, 7))
	cfg := testLicensingConfig()
	cfg.TenantID = ""
	cfg.DeviceID = ""
	svc := newTestService(t, kp, srv.URL, cfg)

	st := svc.CheckStatus(context.Background(), false)
	assert.Equal(t, StateNotRegistered, st.State)
	assert.True(t, st.NeedsSetup)
	assert.False(t, st.Valid)

	_, err := svc.Renew(context.Background())
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestServiceStatusEnforcementOff(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, calls := newHubServer(t, issueTokenHandler(kp, time.Hour, 7))
	cfg := testLicensingConfig()
	cfg.Enforced = false
	svc := newTestService(t, kp, srv.URL, cfg)

	st := svc.CheckStatus(context.Background(), true)
	assert.Equal(t, StateDevelopment, st.State)
	assert.True(t, st.Valid)
	assert.EqualValues(t, 0, calls.Load())
}

func TestServiceStatusTracksClock(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, _ := newHubServer(t, issueTokenHandler(kp, 24*time.Hour, 7))
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())
	ctx := context.Background()

	_, err := svc.Activate(ctx, "tenant-1", "device-1", "key")
	require.NoError(t, err)

	base := time.Now()
	atTime := func(t time.Time) { svc.now = func() time.Time { return t } }

	atTime(base)
	assert.Equal(t, StateActive, svc.CheckStatus(ctx, false).State)

	atTime(base.Add(2 * 24 * time.Hour))
	st := svc.CheckStatus(ctx, false)
	assert.Equal(t, StateOfflineGrace, st.State)
	assert.True(t, st.Valid)
	assert.True(t, st.ShowWarning)

	atTime(base.Add(10 * 24 * time.Hour))
	st = svc.CheckStatus(ctx, false)
	assert.Equal(t, StateExpired, st.State)
	assert.False(t, st.Valid)
	assert.True(t, st.NeedsSetup)
}

func TestServiceRefreshFailureKeepsCachedStatus(t *testing.T) {
	kp := newTestKeyPair(t)
	hubUp := atomic.Bool{}
	hubUp.Store(true)
	issue := issueTokenHandler(kp, 24*time.Hour, 7)
	srv, _ := newHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !hubUp.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		issue(w, r)
	})
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())
	ctx := context.Background()

	_, err := svc.Activate(ctx, "tenant-1", "device-1", "key")
	require.NoError(t, err)

	// Hub goes dark. A refreshing status check must fall back to the
	// stored credential and keep answering valid.
	hubUp.Store(false)
	st := svc.CheckStatus(ctx, true)
	assert.Equal(t, StateActive, st.State)
	assert.True(t, st.Valid)
	assert.True(t, st.Cached)

	hubUp.Store(true)
	st = svc.CheckStatus(ctx, true)
	assert.Equal(t, StateActive, st.State)
	assert.False(t, st.Cached)
}

func TestServiceRefreshDeduplicatesConcurrentCallers(t *testing.T) {
	kp := newTestKeyPair(t)
	issue := issueTokenHandler(kp, 24*time.Hour, 7)
	srv, calls := newHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		issue(w, r)
	})
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			st := svc.CheckStatus(ctx, true)
			assert.Equal(t, StateActive, st.State)
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent refreshes must share one hub call")
}

func TestServiceDeactivate(t *testing.T) {
	kp := newTestKeyPair(t)
	srv, _ := newHubServer(t, issueTokenHandler(kp, time.Hour, 7))
	svc := newTestService(t, kp, srv.URL, testLicensingConfig())
	ctx := context.Background()

	_, err := svc.Activate(ctx, "tenant-1", "device-1", "key")
	require.NoError(t, err)
	require.Equal(t, StateActive, svc.CheckStatus(ctx, false).State)

	require.NoError(t, svc.Deactivate(ctx))
	st := svc.CheckStatus(ctx, false)
	assert.Equal(t, StateNotLicensed, st.State)

	_, err = svc.CurrentClaims(ctx)
	assert.ErrorIs(t, err, ErrNotActivated)
}
