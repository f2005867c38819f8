package security

// Audit event types.
const (
	EventCodeIssued          = "authorization_code_issued"
	EventCodeReuseDetected   = "authorization_code_reuse_detected"
	EventTokenIssued         = "token_issued"
	EventTokenRefreshed      = "token_refreshed"
	EventTokenRevoked        = "token_revoked"
	EventAuthFailure         = "auth_failure"
	EventPKCEFailed          = "pkce_validation_failed"
	EventInvalidGrant        = "invalid_grant"
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventInvalidTokenPresent = "invalid_token_presented" //nolint:gosec // event name
)
