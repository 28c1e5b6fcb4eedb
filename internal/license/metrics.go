package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments for the licensing subsystem.
// All components tolerate a nil Metrics so tests can run without a meter.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationFailures metric.Int64Counter
	RenewalTicks       metric.Int64Counter
	RenewalFailures    metric.Int64Counter
	StatusChecks       metric.Int64Counter
	GuardDenials       metric.Int64Counter
}

// NewMetrics creates the license instruments on the global meter provider
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("vendcli/license")
	m := &Metrics{}

	var err error
	if m.ActivationAttempts, err = meter.Int64Counter("license_activation_attempts_total",
		metric.WithDescription("License activation attempts against the Hub")); err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}
	if m.ActivationFailures, err = meter.Int64Counter("license_activation_failures_total",
		metric.WithDescription("Failed license activation attempts by reason")); err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}
	if m.RenewalTicks, err = meter.Int64Counter("license_renewal_ticks_total",
		metric.WithDescription("Background renewal ticks by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create renewal ticks counter: %w", err)
	}
	if m.RenewalFailures, err = meter.Int64Counter("license_renewal_failures_total",
		metric.WithDescription("Failed background renewals")); err != nil {
		return nil, fmt.Errorf("failed to create renewal failures counter: %w", err)
	}
	if m.StatusChecks, err = meter.Int64Counter("license_status_checks_total",
		metric.WithDescription("License status resolutions by resulting state")); err != nil {
		return nil, fmt.Errorf("failed to create status checks counter: %w", err)
	}
	if m.GuardDenials, err = meter.Int64Counter("license_guard_denials_total",
		metric.WithDescription("Requests denied by the license guard by state")); err != nil {
		return nil, fmt.Errorf("failed to create guard denials counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) recordStatusCheck(ctx context.Context, st Status) {
	if m == nil {
		return
	}
	m.StatusChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(st.State)),
		attribute.Bool("cached", st.Cached),
	))
}

func (m *Metrics) recordActivation(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	if err != nil {
		m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", classifyError(err)),
		))
	}
}

func (m *Metrics) recordRenewal(ctx context.Context, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = classifyError(err)
		m.RenewalFailures.Add(ctx, 1)
	}
	m.RenewalTicks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) recordDenial(ctx context.Context, state State) {
	if m == nil {
		return
	}
	m.GuardDenials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(state)),
	))
}
