package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY: Never put actual credential values (access tokens, refresh
// tokens, authorization codes, client secrets) on spans or metrics. Only
// metadata such as token kinds, expiry times, and validation results.
const (
	AttrClientID     = "oauth.client_id"     // Client identifier (non-secret)
	AttrScope        = "oauth.scope"         // Requested scopes
	AttrResource     = "oauth.resource"      // Target resource identifier
	AttrGrantType    = "oauth.grant_type"    // OAuth grant type
	AttrResponseType = "oauth.response_type" // OAuth response type
	AttrPKCEMethod   = "oauth.pkce.method"   // PKCE method used (S256)
	AttrTokenKind    = "oauth.token.kind"    //nolint:gosec // Token kind (access/refresh) - NOT the token
	AttrError        = "oauth.error"         // OAuth error code

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

// SetSpanError marks a span as failed with a message (nil-safe)
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
