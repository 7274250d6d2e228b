// Package storage defines interfaces for persisting OAuth clients,
// authorization codes, and issued tokens. It supports various backend
// implementations; the in-memory backend in storage/memory is the default.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by stores. The server maps these to OAuth error
// codes at the protocol boundary. ConsumeAuthorizationCode deliberately
// returns a single error for every failure mode so callers cannot tell an
// unknown code from an expired or mismatched one (anti-enumeration).
var (
	// ErrClientNotFound is returned when a client ID is not registered.
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientSecret is returned when a client secret does not match.
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrInvalidAuthorizationCode is returned for every authorization code
	// consumption failure: unknown code, expired code, client mismatch, or
	// redirect URI mismatch.
	ErrInvalidAuthorizationCode = errors.New("invalid authorization code")

	// ErrTokenNotFound is returned when a token ID has no recorded entry.
	ErrTokenNotFound = errors.New("token not found")

	// ErrDuplicateTokenID is returned when a token ID is recorded twice.
	// Given the generator's entropy this indicates internal inconsistency
	// and callers should treat it as fatal for the request.
	ErrDuplicateTokenID = errors.New("duplicate token ID")
)

// ClientStore defines the interface for managing registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret against the stored hash
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for diagnostics)
	ListClients(ctx context.Context) ([]*Client, error)
}

// FlowStore defines the interface for managing authorization codes.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically validates and deletes an
	// authorization code. Validation order: code exists, not expired,
	// client ID matches, redirect URI matches. On success the code is
	// removed before returning, so exactly one of N concurrent callers
	// can win for the same code.
	// SECURITY: This operation MUST be atomic to prevent concurrent code
	// exchange attacks.
	ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI string) (*AuthorizationCode, error)
}

// TokenStore records issued tokens keyed by their jti claim.
// Entries are retained for the process lifetime; a production deployment
// would add exp-based eviction.
type TokenStore interface {
	// RecordToken inserts an issued token. A duplicate jti returns
	// ErrDuplicateTokenID.
	RecordToken(ctx context.Context, token *IssuedToken) error

	// GetToken retrieves an issued token by jti. Used only for
	// diagnostics and audit; no HTTP endpoint exposes introspection.
	GetToken(ctx context.Context, jti string) (*IssuedToken, error)
}

// Client represents a registered OAuth client. Records are immutable after
// registration; there is no deregistration.
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash
	ClientName              string
	ClientDescription       string
	ClientURI               string
	LogoURI                 string
	DeveloperName           string
	DeveloperEmail          string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// AuthorizationCode represents an issued authorization code. Codes are
// single-use and expire ten minutes after issuance.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Resource            string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	// TokenKindAccess marks a short-lived access token.
	TokenKindAccess TokenKind = "access"
	// TokenKindRefresh marks a long-lived refresh token.
	TokenKindRefresh TokenKind = "refresh"
)

// IssuedToken is the record of a signed token: its jti, kind, full claim
// set, and the serialized JWT. Never mutated once created.
type IssuedToken struct {
	JTI       string
	Kind      TokenKind
	ClientID  string
	Subject   string
	Audience  string
	Resource  string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Token     string // serialized signed JWT
}
