package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flows
	CodeIssued    metric.Int64Counter
	CodeExchanged metric.Int64Counter
	TokenRefresh  metric.Int64Counter
	TokenRevoked  metric.Int64Counter

	// Security
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// Notification queue
	NotifyTasksTotal metric.Int64Counter
}

type counterSpec struct {
	dst   *metric.Int64Counter
	scope string
	name  string
	desc  string
	unit  string
}

type histogramSpec struct {
	dst   *metric.Float64Histogram
	scope string
	name  string
	desc  string
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "http", "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.CodeIssued, "server", "oauth.code.issued", "Number of authorization codes issued", "{code}"},
		{&m.CodeExchanged, "server", "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
		{&m.TokenRefresh, "server", "oauth.token.refreshed", "Number of refresh token grants", "{refresh}"},
		{&m.TokenRevoked, "server", "oauth.token.revoked", "Number of revocation requests", "{revocation}"},
		{&m.PKCEValidationFailed, "security", "oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}"},
		{&m.CodeReuseDetected, "security", "oauth.code.reuse_detected", "Number of authorization code reuse attempts", "{attempt}"},
		{&m.RateLimitExceeded, "security", "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.StorageOperationTotal, "storage", "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.NotifyTasksTotal, "notify", "notify.tasks.total", "Notification tasks by outcome", "{task}"},
	}
	for _, c := range counters {
		counter, err := inst.Meter(c.scope).Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	histograms := []histogramSpec{
		{&m.HTTPRequestDuration, "http", "oauth.http.request.duration", "HTTP request duration in milliseconds"},
		{&m.StorageOperationDuration, "storage", "storage.operation.duration", "Storage operation duration in milliseconds"},
	}
	for _, h := range histograms {
		hist, err := inst.Meter(h.scope).Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = hist
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordCodeIssued records an authorization code issuance
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string, pkce bool) {
	if m == nil {
		return
	}
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("pkce", pkce),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefresh records a refresh token grant
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	if m == nil {
		return
	}
	m.TokenRefresh.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordTokenRevocation records a revocation request and whether a token matched
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string, matched bool) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("matched", matched),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
	))
}

// RecordNotifyTask records a notification task outcome ("ok", "failed", "dropped")
func (m *Metrics) RecordNotifyTask(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.NotifyTasksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
