package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests metric.Int64Counter
	HTTPDuration metric.Float64Histogram

	RunsStarted     metric.Int64Counter
	RunsCompleted   metric.Int64Counter
	PrecheckHits    metric.Int64Counter
	ProofWait       metric.Float64Histogram
	ConfirmAttempts metric.Int64Histogram
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"csp_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"csp_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsStarted, err = meter.Int64Counter(
		"csp_attestation_runs_started_total",
		metric.WithDescription("Wrapped-token workflow runs started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter(
		"csp_attestation_runs_completed_total",
		metric.WithDescription("Wrapped-token workflow runs completed, by error kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PrecheckHits, err = meter.Int64Counter(
		"csp_precheck_short_circuits_total",
		metric.WithDescription("Runs short-circuited because the wrapped asset already existed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProofWait, err = meter.Float64Histogram(
		"csp_proof_wait_seconds",
		metric.WithDescription("Time spent waiting for verification-network proofs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ConfirmAttempts, err = meter.Int64Histogram(
		"csp_confirmation_attempts",
		metric.WithDescription("Registry polls needed to confirm a wrapped asset"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordRunStart(ctx context.Context) {
	m.RunsStarted.Add(ctx, 1)
}

// RecordRunComplete records a terminal run state; kind is empty on
// success.
func (m *Metrics) RecordRunComplete(ctx context.Context, kind string) {
	if kind == "" {
		kind = "none"
	}
	m.RunsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("error_kind", kind)))
}

func (m *Metrics) RecordPrecheckHit(ctx context.Context) {
	m.PrecheckHits.Add(ctx, 1)
}

func (m *Metrics) ObserveProofWait(ctx context.Context, d time.Duration, ok bool) {
	m.ProofWait.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (m *Metrics) ObserveConfirmAttempts(ctx context.Context, attempts int, ok bool) {
	m.ConfirmAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.Bool("ok", ok)))
}
