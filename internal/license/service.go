package license

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"vendcli/internal/config"
)

// claimsCacheTTL bounds how long a status check may reuse claims loaded
// from the credential store without re-reading it. Classification against
// the clock happens on every check; only the store read is amortized.
const claimsCacheTTL = 5 * time.Minute

// ActivateResult reports the outcome of a successful activation or renewal
type ActivateResult struct {
	Plan         string    `json:"plan"`
	ExpiresAt    time.Time `json:"expires_at"`
	GraceDays    int       `json:"grace_days"`
	Entitlements []string  `json:"entitlements,omitempty"`
}

// claimsEntry is one load of the stored credential. claims is nil when no
// usable credential exists; invalid records which fail verification also
// land here as nil (fails closed).
type claimsEntry struct {
	claims   *Claims
	loadedAt time.Time
}

// Service orchestrates activation and status resolution. It composes the
// Store, Verifier, and HubClient and owns the in-memory last-known-status
// snapshot. Reads of the snapshot are lock-free; the service is the single
// writer.
type Service struct {
	cfg      config.LicensingConfig
	store    *Store
	verifier *Verifier
	hub      *HubClient
	logger   *slog.Logger
	metrics  *Metrics

	// now is a seam for tests
	now func() time.Time

	cache    atomic.Pointer[claimsEntry]
	snapshot atomic.Pointer[Status]
	refresh  singleflight.Group
}

// NewService wires a licensing service from its collaborators
func NewService(cfg config.LicensingConfig, store *Store, verifier *Verifier, hub *HubClient, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		hub:      hub,
		logger:   logger.With(slog.String("component", "licensing_service")),
		now:      time.Now,
	}
}

// SetMetrics attaches the OpenTelemetry instruments
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Activate requests a token from the Hub, verifies it, and persists it.
// A failed activation never grants or revokes anything: the stored
// credential and the cached status are left exactly as they were.
func (s *Service) Activate(ctx context.Context, tenantID, deviceID, licenseKey string) (result *ActivateResult, err error) {
	defer func() { s.metrics.recordActivation(ctx, err) }()

	if tenantID == "" || deviceID == "" {
		return nil, fmt.Errorf("%w: tenant and device identifiers are required", ErrInvalidParameters)
	}

	s.logger.InfoContext(ctx, "license activation started",
		slog.String("operation", "activate"),
		slog.String("tenant_id", tenantID),
		slog.String("device_id", deviceID),
		slog.String("license_key", maskLicenseKey(licenseKey)),
	)

	token, err := s.hub.Activate(ctx, tenantID, deviceID, licenseKey)
	if err != nil {
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("operation", "activate"),
			slog.String("tenant_id", tenantID),
			slog.String("reason", classifyError(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.ErrorContext(ctx, "hub issued a token that failed verification",
			slog.String("operation", "activate"),
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if claims.TenantID != tenantID || claims.DeviceID != deviceID {
		return nil, fmt.Errorf("%w: token was issued for a different installation", ErrTokenInvalid)
	}

	if err = s.store.Save(tenantID, deviceID, token); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist license credential",
			slog.String("operation", "activate"),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	now := s.now()
	s.cache.Store(&claimsEntry{claims: claims, loadedAt: now})
	st := Resolve(s.cfg.Enforced, claims, s.cfg.OfflineGraceDays, now)
	s.snapshot.Store(&st)

	s.logger.InfoContext(ctx, "license activated",
		slog.String("operation", "activate"),
		slog.String("tenant_id", tenantID),
		slog.String("plan", claims.Plan),
		slog.Time("expires_at", claims.Expiry()),
		slog.Int("grace_days", claims.GraceDaysOr(s.cfg.OfflineGraceDays)),
	)

	return &ActivateResult{
		Plan:         claims.Plan,
		ExpiresAt:    claims.Expiry(),
		GraceDays:    int(claims.GracePeriod(s.cfg.OfflineGraceDays) / (24 * time.Hour)),
		Entitlements: claims.Entitlements,
	}, nil
}

// Renew re-runs the activation path for the configured identity. Used by
// the background scheduler and by Hub-backed status refreshes.
func (s *Service) Renew(ctx context.Context) (*ActivateResult, error) {
	if !s.cfg.HasIdentity() {
		return nil, ErrMissingIdentity
	}
	return s.Activate(ctx, s.cfg.TenantID, s.cfg.DeviceID, "")
}

// Deactivate removes the stored credential from all backends
func (s *Service) Deactivate(ctx context.Context) error {
	if err := s.store.Delete(s.cfg.TenantID, s.cfg.DeviceID); err != nil {
		return err
	}
	now := s.now()
	s.cache.Store(&claimsEntry{loadedAt: now})
	st := Resolve(s.cfg.Enforced, nil, s.cfg.OfflineGraceDays, now)
	s.snapshot.Store(&st)
	s.logger.InfoContext(ctx, "license deactivated",
		slog.String("operation", "deactivate"),
		slog.String("tenant_id", s.cfg.TenantID),
	)
	return nil
}

// CurrentClaims loads and verifies the stored credential without touching
// the Hub. Returns ErrMissingIdentity, ErrNotActivated, or ErrTokenInvalid
// when no usable claims exist.
func (s *Service) CurrentClaims(ctx context.Context) (*Claims, error) {
	if !s.cfg.HasIdentity() {
		return nil, ErrMissingIdentity
	}
	token, ok := s.store.Get(s.cfg.TenantID, s.cfg.DeviceID)
	if !ok {
		return nil, ErrNotActivated
	}
	return s.verifier.Verify(token)
}

// CheckStatus resolves the current license status. With refreshFromHub the
// credential is first renewed through the Hub (deduplicated across
// concurrent callers); a refresh failure falls back to the locally derived
// status unchanged, so a network blip never flips a valid license.
func (s *Service) CheckStatus(ctx context.Context, refreshFromHub bool) Status {
	now := s.now()

	if !s.cfg.Enforced {
		st := Resolve(false, nil, s.cfg.OfflineGraceDays, now)
		st.Cached = true
		s.snapshot.Store(&st)
		s.metrics.recordStatusCheck(ctx, st)
		return st
	}

	if !s.cfg.HasIdentity() {
		st := Status{
			State:      StateNotRegistered,
			NeedsSetup: true,
			Cached:     true,
			Message:    "this installation is not registered with the hub",
			CheckedAt:  now,
		}
		s.snapshot.Store(&st)
		s.metrics.recordStatusCheck(ctx, st)
		return st
	}

	cached := true
	if refreshFromHub {
		_, err, _ := s.refresh.Do("hub-refresh", func() (any, error) {
			return s.Renew(ctx)
		})
		if err == nil {
			cached = false
		} else {
			s.logger.WarnContext(ctx, "hub status refresh failed, answering from cached credential",
				slog.String("operation", "check_status"),
				slog.String("reason", classifyError(err)),
				slog.String("error", err.Error()),
			)
		}
	}

	entry := s.loadClaims(ctx, now)
	st := Resolve(true, entry.claims, s.cfg.OfflineGraceDays, now)
	st.Cached = cached
	s.snapshot.Store(&st)
	s.metrics.recordStatusCheck(ctx, st)
	return st
}

// Snapshot returns the last derived status without touching storage or the
// network, computing one on first use. Guards read this on the hot path.
func (s *Service) Snapshot(ctx context.Context) Status {
	if st := s.snapshot.Load(); st != nil {
		return *st
	}
	return s.CheckStatus(ctx, false)
}

// loadClaims returns the cached claims when fresh, re-reading the store
// otherwise. Invalid or absent credentials cache as nil claims so repeated
// checks do not hammer the backend.
func (s *Service) loadClaims(ctx context.Context, now time.Time) *claimsEntry {
	if entry := s.cache.Load(); entry != nil && now.Sub(entry.loadedAt) < claimsCacheTTL {
		return entry
	}

	entry := &claimsEntry{loadedAt: now}
	if token, ok := s.store.Get(s.cfg.TenantID, s.cfg.DeviceID); ok {
		claims, err := s.verifier.Verify(token)
		if err != nil {
			s.logger.WarnContext(ctx, "stored credential failed verification, treating as not licensed",
				slog.String("operation", "check_status"),
				slog.String("error", err.Error()),
			)
		} else {
			entry.claims = claims
		}
	}
	s.cache.Store(entry)
	return entry
}
