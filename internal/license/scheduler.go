package license

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// renewalThreshold is how close to expiry a license must be before the
// scheduler proactively renews it.
const renewalThreshold = 24 * time.Hour

// Scheduler drives the background renewal loop: one periodic job per
// process that re-activates the license before it expires. The scheduler
// itself never revokes anything; on failure it logs and lets the guards
// decide based on the grace window.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// inFlight guarantees non-overlapping ticks: a tick that finds a
	// previous one still running skips entirely rather than queuing.
	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a renewal scheduler with the given tick interval
func NewScheduler(svc *Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		svc:      svc,
		interval: interval,
		logger:   logger.With(slog.String("component", "renewal_scheduler")),
		now:      time.Now,
	}
}

// Start launches the periodic renewal loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	s.logger.Info("renewal scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("renewal_threshold", renewalThreshold),
	)
}

// Stop cancels the timer and waits for an in-flight tick to finish. The
// Hub call timeout bounds the wait. Stopping a stopped scheduler is a
// no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("renewal scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The loop context only stops the ticker. A tick already
			// talking to the Hub runs to completion, bounded by the Hub
			// client timeout, so Stop drains instead of aborting it.
			s.tick(context.WithoutCancel(ctx))
		}
	}
}

// tick runs one renewal pass. Exported behavior: skip when a tick is
// already running, skip when nothing is stored, renew only inside the
// threshold, and never take destructive action on failure.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("renewal tick skipped, previous tick still running")
		return
	}
	defer s.inFlight.Store(false)

	now := s.now()
	claims, err := s.svc.CurrentClaims(ctx)
	if err != nil {
		s.logger.Debug("no renewable credential, skipping renewal tick",
			slog.String("reason", classifyError(err)),
		)
		return
	}

	untilExpiry := claims.Expiry().Sub(now)
	if untilExpiry > renewalThreshold {
		s.logger.Debug("license not yet due for renewal",
			slog.Duration("until_expiry", untilExpiry),
		)
		return
	}

	result, err := s.svc.Renew(ctx)
	s.svc.metrics.recordRenewal(ctx, err)
	if err == nil {
		s.logger.Info("license renewed",
			slog.String("operation", "renew"),
			slog.String("plan", result.Plan),
			slog.Time("expires_at", result.ExpiresAt),
		)
		return
	}

	graceEnd := claims.Expiry().Add(claims.GracePeriod(s.svc.cfg.OfflineGraceDays))
	if now.Before(graceEnd) {
		s.logger.Warn("license renewal failed, offline grace still covers this installation",
			slog.String("operation", "renew"),
			slog.String("reason", classifyError(err)),
			slog.String("error", err.Error()),
			slog.Time("grace_end", graceEnd),
		)
	} else {
		s.logger.Error("license renewal failed and the grace period has elapsed",
			slog.String("operation", "renew"),
			slog.String("reason", classifyError(err)),
			slog.String("error", err.Error()),
			slog.Time("grace_end", graceEnd),
		)
	}
}
