package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never attach credential values (codes, tokens, secrets) as attributes.
// Only metadata such as client IDs, scopes and validation results.
const (
	AttrClientID   = "oauth.client_id"
	AttrUserID     = "oauth.user_id"
	AttrScope      = "oauth.scope"
	AttrPKCEMethod = "oauth.pkce.method"
	AttrGrantType  = "oauth.grant_type"
	AttrTokenHint  = "oauth.token_type_hint" //nolint:gosec // hint name, not a token
	AttrRotated    = "oauth.token.rotated"   //nolint:gosec // boolean flag
	AttrError      = "oauth.error"

	AttrStorageOperation = "storage.operation"
	AttrStorageBackend   = "storage.backend"
	AttrStorageResult    = "storage.result"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds client, user and scope attributes, skipping empty values.
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, backend string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageBackend, backend),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// StartStorageOperation starts a "storage.<operation>" span when tracer is
// non-nil and returns a completion func that records the outcome on the span
// and in the storage metrics. Both tracer and m may be nil.
func StartStorageOperation(ctx context.Context, tracer trace.Tracer, m *Metrics, backend, operation string) (context.Context, trace.Span, func(error)) {
	start := time.Now()
	span := trace.SpanFromContext(ctx)
	if tracer != nil {
		ctx, span = tracer.Start(ctx, "storage."+operation)
		AddStorageAttributes(span, operation, backend)
	}

	return ctx, span, func(err error) {
		result := "success"
		if err != nil {
			result = "error"
			RecordError(span, err)
		} else {
			SetSpanSuccess(span)
		}
		m.RecordStorageOperation(ctx, backend, operation, result, float64(time.Since(start).Microseconds())/1000)
		if tracer != nil {
			span.End()
		}
	}
}
