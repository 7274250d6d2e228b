package oauthd

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/oauthd/oauthd/instrumentation"
	"github.com/oauthd/oauthd/security"
	"github.com/oauthd/oauthd/signing"
	"github.com/oauthd/oauthd/storage"
)

// Identifier prefixes. The prefix makes the identifier kind obvious in
// logs and bug reports.
const (
	clientIDPrefix     = "mcp_"
	clientSecretPrefix = "secret_"
)

// SeedClientID is a well-known client identifier that is pre-registered at
// startup so that example clients work against a fresh server without a
// registration round-trip.
const SeedClientID = "mcp_6950e6b7db0e6115a5af3a790340ad87"

// Registration defaults applied when the request omits a field.
const (
	defaultClientName        = "MCP Test Client"
	defaultClientDescription = "A test MCP client"
	defaultDeveloperName     = "Test Developer"
	defaultDeveloperEmail    = "test@example.com"
	defaultRedirectURI       = "http://localhost:6274/oauth/callback/debug"
)

// idCharset is the alphabet for generated identifiers (base64url characters).
const idCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// Server implements the OAuth 2.0 authorization server logic. It
// coordinates client registration, the authorization code flow, and token
// minting over the storage backends and the signing key.
type Server struct {
	clientStore storage.ClientStore
	flowStore   storage.FlowStore
	tokenStore  storage.TokenStore
	issuer      *signing.Issuer
	keys        *signing.KeyProvider
	auditor     *security.Auditor
	inst        *instrumentation.Instrumentation
	logger      *slog.Logger
	config      *ServerConfig
}

// ServerConfig holds OAuth server configuration
type ServerConfig struct {
	// Issuer is the server's issuer identifier (base URL)
	// Default: "http://localhost:9000"
	Issuer string

	// Subject is the fixed sub claim placed in every minted token.
	// There is no user directory; authorization is granted to a single
	// synthetic subject.
	// Default: "9026451"
	Subject string

	// DefaultResource is the audience used when an authorization request
	// carries no resource parameter
	// Default: "http://localhost:3000/mcp"
	DefaultResource string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// SeedClients lists client IDs that are registered at server
	// construction with the default redirect URI and no secret, so they
	// work at the authorization endpoint without a registration call.
	// Default: [SeedClientID]
	SeedClients []string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// When false, uses direct connection IP (secure by default)
	// Default: false
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Used with TrustProxy to correctly extract client IP from X-Forwarded-For
	// Default: 1
	TrustedProxyCount int // default: 1
}

// NewServer creates a new OAuth server
func NewServer(
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	tokenStore storage.TokenStore,
	keys *signing.KeyProvider,
	config *ServerConfig,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if config == nil {
		config = &ServerConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config)

	issuer, err := signing.NewIssuer(keys, signing.IssuerConfig{
		Issuer:          config.Issuer,
		Subject:         config.Subject,
		AccessTokenTTL:  time.Duration(config.AccessTokenTTL) * time.Second,
		RefreshTokenTTL: time.Duration(config.RefreshTokenTTL) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	s := &Server{
		clientStore: clientStore,
		flowStore:   flowStore,
		tokenStore:  tokenStore,
		issuer:      issuer,
		keys:        keys,
		config:      config,
		logger:      logger,
	}

	// Seed clients go through the same client store as registered ones,
	// so the authorization path treats them like any other client.
	for _, clientID := range config.SeedClients {
		if err := s.registerSeedClient(context.Background(), clientID); err != nil {
			return nil, fmt.Errorf("failed to register seed client %s: %w", clientID, err)
		}
	}

	return s, nil
}

// applyDefaults fills in zero-valued configuration fields
func applyDefaults(config *ServerConfig) *ServerConfig {
	cfg := *config

	if cfg.Issuer == "" {
		cfg.Issuer = "http://localhost:9000"
	}
	if cfg.Subject == "" {
		cfg.Subject = "9026451"
	}
	if cfg.DefaultResource == "" {
		cfg.DefaultResource = "http://localhost:3000/mcp"
	}
	if cfg.AuthorizationCodeTTL == 0 {
		cfg.AuthorizationCodeTTL = 600
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 3600
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 2592000
	}
	if cfg.SeedClients == nil {
		cfg.SeedClients = []string{SeedClientID}
	}
	if cfg.TrustedProxyCount == 0 {
		cfg.TrustedProxyCount = 1
	}

	return &cfg
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// Config returns the effective server configuration
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Instrumentation returns the configured instrumentation, or nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.inst
}

// Keys returns the server's signing key provider
func (s *Server) Keys() *signing.KeyProvider {
	return s.keys
}

// RegisterClient registers a new OAuth client. Omitted metadata fields are
// filled with development defaults. The plaintext secret appears only in
// the returned response; storage keeps a bcrypt hash.
func (s *Server) RegisterClient(ctx context.Context, req *ClientRegistrationRequest, clientIP string) (*ClientRegistrationResponse, error) {
	if req == nil {
		req = &ClientRegistrationRequest{}
	}

	clientID, err := randomID(clientIDPrefix, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client ID: %w", err)
	}
	clientSecret, err := randomID(clientSecretPrefix, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client secret: %w", err)
	}

	secretHash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	clientName := req.ClientName
	if clientName == "" {
		clientName = defaultClientName
	}
	clientDescription := req.ClientDescription
	if clientDescription == "" {
		clientDescription = defaultClientDescription
	}
	developerName := req.DeveloperName
	if developerName == "" {
		developerName = defaultDeveloperName
	}
	developerEmail := req.DeveloperEmail
	if developerEmail == "" {
		developerEmail = defaultDeveloperEmail
	}
	redirectURIs := req.RedirectURIs
	if len(redirectURIs) == 0 {
		redirectURIs = []string{defaultRedirectURI}
	}

	now := time.Now().UTC()

	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        string(secretHash),
		ClientName:              clientName,
		ClientDescription:       clientDescription,
		ClientURI:               req.ClientURI,
		LogoURI:                 req.ClientLogoURL,
		DeveloperName:           developerName,
		DeveloperEmail:          developerEmail,
		RedirectURIs:            redirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	if s.auditor != nil {
		s.auditor.LogClientRegistered(clientID, clientName, clientIP)
	}
	if s.inst != nil && s.inst.Metrics() != nil {
		s.inst.Metrics().RecordClientRegistration(ctx)
	}

	s.logger.Info("Registered new OAuth client",
		"client_id", clientID,
		"client_name", clientName,
		"client_ip", clientIP)

	return &ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientName:              client.ClientName,
		ClientDescription:       client.ClientDescription,
		ClientLogoURL:           client.LogoURI,
		ClientURI:               client.ClientURI,
		DeveloperName:           client.DeveloperName,
		DeveloperEmail:          client.DeveloperEmail,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		CreatedAt:               now.Format(time.RFC3339),
		UpdatedAt:               now.Format(time.RFC3339),
	}, nil
}

// Authorize validates an authorization request and issues a single-use
// authorization code bound to the client, redirect URI, resource, scope,
// and PKCE challenge.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, clientIP string) (*AuthorizationResult, error) {
	if req.ResponseType != "code" {
		return nil, ErrUnsupportedResponseType(fmt.Sprintf("response_type %q is not supported", req.ResponseType))
	}
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != "S256" {
		return nil, ErrInvalidRequest(fmt.Sprintf("code_challenge_method %q is not supported (only S256)", req.CodeChallengeMethod))
	}

	if _, err := s.clientStore.GetClient(ctx, req.ClientID); err != nil {
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", req.ClientID, clientIP, "unknown_client")
		}
		return nil, ErrInvalidClient("unknown client_id")
	}

	// Authorization code with the entropy and length of a PKCE verifier
	// (43 base64url characters, RFC 7636 quality).
	code := oauth2.GenerateVerifier()

	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Resource:            req.Resource,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		return nil, ErrServerError("failed to store authorization code")
	}

	if s.auditor != nil {
		s.auditor.LogCodeIssued(req.ClientID, clientIP, req.Scope)
	}
	if s.inst != nil && s.inst.Metrics() != nil {
		s.inst.Metrics().RecordCodeIssued(ctx, req.ClientID)
	}

	s.logger.Info("Issued authorization code",
		"client_id", req.ClientID,
		"redirect_uri", req.RedirectURI,
		"pkce", req.CodeChallenge != "")

	return &AuthorizationResult{
		Code:        code,
		RedirectURI: req.RedirectURI,
		CallbackURL: buildCallbackURL(req.RedirectURI, code),
	}, nil
}

// registerSeedClient registers a seed client with the default redirect
// URI and no secret. A client already in the store is left untouched.
func (s *Server) registerSeedClient(ctx context.Context, clientID string) error {
	if _, err := s.clientStore.GetClient(ctx, clientID); err == nil {
		return nil
	}

	now := time.Now().UTC()
	return s.clientStore.SaveClient(ctx, &storage.Client{
		ClientID:                clientID,
		ClientName:              defaultClientName,
		RedirectURIs:            []string{defaultRedirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		CreatedAt:               now,
		UpdatedAt:               now,
	})
}

// ExchangeAuthorizationCode redeems an authorization code for a signed
// access/refresh token pair. The code is consumed atomically; a second
// presentation of the same code fails regardless of the outcome of the
// first. When the client supplies a code_verifier it is checked against
// the stored challenge; a missing verifier is accepted.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, clientIP string) (*TokenResponse, error) {
	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code, clientID, redirectURI)
	if err != nil {
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", clientID, clientIP, "invalid_authorization_code")
		}
		if s.inst != nil && s.inst.Metrics() != nil {
			s.inst.Metrics().RecordInvalidGrant(ctx, "authorization_code")
		}
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	if codeVerifier != "" {
		if err := validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
			if s.auditor != nil {
				s.auditor.LogEvent(security.Event{
					Type:     security.EventPKCEValidationFailed,
					ClientID: clientID,
					Details: map[string]any{
						"reason": err.Error(),
					},
				})
			}
			if s.inst != nil && s.inst.Metrics() != nil {
				s.inst.Metrics().RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
			}
			return nil, ErrInvalidGrant(fmt.Sprintf("PKCE validation failed: %v", err))
		}
	}

	resource := authCode.Resource
	if resource == "" {
		resource = s.config.DefaultResource
	}

	access, refresh, err := s.issuer.IssueTokenPair(clientID, resource, authCode.Scope)
	if err != nil {
		return nil, ErrServerError("failed to mint tokens")
	}

	if err := s.recordToken(ctx, access, clientID); err != nil {
		return nil, err
	}
	if err := s.recordToken(ctx, refresh, clientID); err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogTokenIssued(s.config.Subject, clientID, clientIP, authCode.Scope)
	}
	if s.inst != nil && s.inst.Metrics() != nil {
		s.inst.Metrics().RecordCodeExchange(ctx, clientID, authCode.CodeChallengeMethod)
		s.inst.Metrics().RecordTokenIssued(ctx, clientID, signing.KindAccess)
		s.inst.Metrics().RecordTokenIssued(ctx, clientID, signing.KindRefresh)
	}

	s.logger.Info("Exchanged authorization code for tokens",
		"client_id", clientID,
		"jti", access.JTI,
		"scope", authCode.Scope)

	return &TokenResponse{
		AccessToken:  access.Serialized,
		RefreshToken: refresh.Serialized,
		TokenType:    "bearer",
		ExpiresIn:    s.config.AccessTokenTTL,
	}, nil
}

// RefreshAccessToken mints a new access token for the refresh grant. The
// presented refresh token is echoed back unchanged; there is no rotation.
// The token is not verified against the store, matching the permissive
// development posture of this server.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientIP string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}
	if clientID == "" {
		clientID = SeedClientID
	}

	access, err := s.issuer.IssueAccessToken(clientID, s.config.DefaultResource, "")
	if err != nil {
		return nil, ErrServerError("failed to mint access token")
	}

	if err := s.recordToken(ctx, access, clientID); err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogTokenRefreshed(s.config.Subject, clientID, clientIP)
	}
	if s.inst != nil && s.inst.Metrics() != nil {
		s.inst.Metrics().RecordTokenRefresh(ctx, clientID)
		s.inst.Metrics().RecordTokenIssued(ctx, clientID, signing.KindAccess)
	}

	s.logger.Info("Refreshed access token",
		"client_id", clientID,
		"jti", access.JTI)

	return &TokenResponse{
		AccessToken:  access.Serialized,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    s.config.AccessTokenTTL,
	}, nil
}

// recordToken persists a minted token keyed by jti. A jti collision means
// the random source is broken; the request fails rather than silently
// overwriting an existing token.
func (s *Server) recordToken(ctx context.Context, token *signing.Token, clientID string) *OAuthError {
	err := s.tokenStore.RecordToken(ctx, &storage.IssuedToken{
		JTI:       token.JTI,
		Kind:      storage.TokenKind(token.Kind),
		ClientID:  clientID,
		Subject:   token.Claims.Subject,
		Audience:  token.Claims.Audience,
		Resource:  token.Claims.Resource,
		Scope:     token.Claims.Scope,
		IssuedAt:  token.Claims.IssuedAt,
		ExpiresAt: token.Claims.ExpiresAt,
		Token:     token.Serialized,
	})
	if err != nil {
		s.logger.Error("Failed to record issued token", "jti", token.JTI, "error", err)
		return ErrServerError("failed to record issued token")
	}
	return nil
}

// Metadata returns the RFC 8414 authorization server metadata document
func (s *Server) Metadata() *AuthorizationServerMetadata {
	issuer := s.config.Issuer
	return &AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/authorize",
		TokenEndpoint:                     issuer + "/token",
		JWKSURI:                           issuer + "/.well-known/jwks.json",
		RegistrationEndpoint:              issuer + "/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
}

// JWKS returns the server's public key set
func (s *Server) JWKS() signing.JWKSet {
	return s.keys.JWKS()
}

// ValidateClientCredentials validates client credentials for the token endpoint
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	return s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret)
}

// GetClient looks up a registered client
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}

// validatePKCE checks a code_verifier against a stored S256 challenge.
// Callers only invoke this when the client presented a verifier.
func validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		// The authorization request carried no challenge; there is
		// nothing to check the verifier against.
		return nil
	}

	// RFC 7636: code_verifier must be 43-128 characters
	if len(verifier) < 43 {
		return fmt.Errorf("code_verifier must be at least 43 characters (RFC 7636)")
	}
	if len(verifier) > 128 {
		return fmt.Errorf("code_verifier must be at most 128 characters (RFC 7636)")
	}

	// RFC 7636: code_verifier can only contain [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
	for _, ch := range verifier {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') &&
			ch != '-' && ch != '.' && ch != '_' && ch != '~' {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	if method != "" && method != "S256" {
		return fmt.Errorf("unsupported code_challenge_method: %s (supported: S256)", method)
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// buildCallbackURL appends the code query parameter to the redirect URI,
// preserving any query parameters already present
func buildCallbackURL(redirectURI, code string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// The URI was accepted upstream; fall back to naive appending.
		return redirectURI + "?code=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}

// randomID generates a random identifier of length characters drawn from
// the base64url alphabet with an optional prefix
func randomID(prefix string, length int) (string, error) {
	max := big.NewInt(int64(len(idCharset)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = idCharset[n.Int64()]
	}
	return prefix + string(buf), nil
}
