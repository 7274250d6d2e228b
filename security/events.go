package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a token pair is minted for a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is reissued via the refresh grant
	EventTokenRefreshed = "token_refreshed"

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReplayed is logged when a consumed or unknown code is presented
	EventAuthorizationCodeReplayed = "authorization_code_replayed"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// Security violation events

	// EventAuthFailure is logged when a grant or client authentication fails
	EventAuthFailure = "auth_failure"

	// EventPKCEValidationFailed is logged when PKCE code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"
)
