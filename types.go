package oauthd

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// ==================== Server Metadata (RFC 8414) ====================

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// JWKSURI is the URL of the server's JSON Web Key Set
	JWKSURI string `json:"jwks_uri"`

	// RegistrationEndpoint is the URL of the dynamic client registration endpoint (RFC 7591)
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods supported at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// ==================== Dynamic Client Registration (RFC 7591) Types ====================

// ClientRegistrationRequest represents a dynamic client registration request.
// Every field is optional; omitted fields are filled with development
// defaults so that a bare POST still yields a usable client.
type ClientRegistrationRequest struct {
	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name,omitempty"`

	// ClientDescription is a short description of the client
	ClientDescription string `json:"client_description,omitempty"`

	// ClientLogoURL is the URL of the client's logo image
	ClientLogoURL string `json:"client_logo_url,omitempty"`

	// ClientURI is the URL of the client's home page
	ClientURI string `json:"client_uri,omitempty"`

	// DeveloperName is the name of the client's developer
	DeveloperName string `json:"developer_name,omitempty"`

	// DeveloperEmail is the contact email of the client's developer
	DeveloperEmail string `json:"developer_email,omitempty"`

	// RedirectURIs is the array of redirection URIs for use in redirect-based flows
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// ClientRegistrationResponse represents a dynamic client registration
// response. The client secret is returned exactly once, at registration
// time; only its hash is stored.
type ClientRegistrationResponse struct {
	// ClientID is the unique client identifier
	ClientID string `json:"client_id"`

	// ClientSecret is the client secret in plaintext
	ClientSecret string `json:"client_secret"`

	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name"`

	// ClientDescription is a short description of the client
	ClientDescription string `json:"client_description"`

	// ClientLogoURL is the URL of the client's logo image
	ClientLogoURL string `json:"client_logo_url,omitempty"`

	// ClientURI is the URL of the client's home page
	ClientURI string `json:"client_uri,omitempty"`

	// DeveloperName is the name of the client's developer
	DeveloperName string `json:"developer_name"`

	// DeveloperEmail is the contact email of the client's developer
	DeveloperEmail string `json:"developer_email"`

	// RedirectURIs is the array of registered redirection URIs
	RedirectURIs []string `json:"redirect_uris"`

	// GrantTypes is the array of OAuth 2.0 grant types the client may use
	GrantTypes []string `json:"grant_types"`

	// ResponseTypes is the array of OAuth 2.0 response types the client may use
	ResponseTypes []string `json:"response_types"`

	// TokenEndpointAuthMethod is the client authentication method for the token endpoint
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`

	// CreatedAt is the RFC 3339 timestamp of registration
	CreatedAt string `json:"created_at"`

	// UpdatedAt is the RFC 3339 timestamp of the last update
	UpdatedAt string `json:"updated_at"`
}

// ==================== Authorization and Token Types ====================

// AuthorizationRequest carries the query parameters of an authorization
// endpoint request
type AuthorizationRequest struct {
	// ResponseType is the requested response type; only "code" is supported
	ResponseType string

	// ClientID identifies the requesting client
	ClientID string

	// RedirectURI is where the authorization code is delivered
	RedirectURI string

	// Resource is the target resource indicator (RFC 8707)
	Resource string

	// Scope is the requested space-separated scope string
	Scope string

	// CodeChallenge is the PKCE code challenge
	CodeChallenge string

	// CodeChallengeMethod is the PKCE challenge method; only "S256" is supported
	CodeChallengeMethod string
}

// AuthorizationResult is the outcome of a granted authorization request
type AuthorizationResult struct {
	// Code is the issued authorization code
	Code string

	// RedirectURI echoes the validated redirect URI
	RedirectURI string

	// CallbackURL is the redirect URI with the code query parameter appended
	CallbackURL string
}

// TokenResponse represents a successful token endpoint response
type TokenResponse struct {
	// AccessToken is the signed JWT access token
	AccessToken string `json:"access_token"`

	// RefreshToken is the signed JWT refresh token
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is always "bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`
}
