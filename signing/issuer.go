package signing

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds stamped into the "type" claim and the jti prefix.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims is the full claim set of an issued token.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  string
	ClientID  string
	Resource  string
	Scope     string
	Type      string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Token is a minted, signed token together with its claims.
type Token struct {
	JTI        string
	Kind       string
	Claims     Claims
	Serialized string
}

// IssuerConfig configures an Issuer. Zero values fall back to defaults.
type IssuerConfig struct {
	// Issuer is the iss claim (the server's base URL).
	Issuer string

	// Subject is the fixed sub claim. There is no user directory in this
	// design; every token carries the same subject.
	Subject string

	// AccessTokenTTL is the access token lifetime (default 1 hour).
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime (default 30 days).
	RefreshTokenTTL time.Duration
}

// Issuer builds claim sets and produces signed JWTs. Signing is a pure
// function of the claim set and the process-wide private key; only RS256
// is ever used.
type Issuer struct {
	keys       *KeyProvider
	issuer     string
	subject    string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer creates a token issuer bound to the given key provider.
func NewIssuer(keys *KeyProvider, config IssuerConfig) (*Issuer, error) {
	if keys == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}

	return &Issuer{
		keys:       keys,
		issuer:     config.Issuer,
		subject:    config.Subject,
		accessTTL:  config.AccessTokenTTL,
		refreshTTL: config.RefreshTokenTTL,
	}, nil
}

// IssueTokenPair mints an access/refresh token pair sharing iss, sub, aud,
// scope, and resource. The two claim sets differ only in type, jti, and exp.
func (i *Issuer) IssueTokenPair(clientID, resource, scope string) (access, refresh *Token, err error) {
	now := time.Now()

	access, err = i.sign(KindAccess, clientID, resource, scope, now, now.Add(i.accessTTL))
	if err != nil {
		return nil, nil, err
	}

	refresh, err = i.sign(KindRefresh, clientID, resource, scope, now, now.Add(i.refreshTTL))
	if err != nil {
		return nil, nil, err
	}

	return access, refresh, nil
}

// IssueAccessToken mints a standalone access token for the refresh grant.
func (i *Issuer) IssueAccessToken(clientID, resource, scope string) (*Token, error) {
	now := time.Now()
	return i.sign(KindAccess, clientID, resource, scope, now, now.Add(i.accessTTL))
}

func (i *Issuer) sign(kind, clientID, resource, scope string, issuedAt, expiresAt time.Time) (*Token, error) {
	jti := newTokenID(kind)

	claims := Claims{
		Issuer:    i.issuer,
		Subject:   i.subject,
		Audience:  resource,
		ClientID:  clientID,
		Resource:  resource,
		Scope:     scope,
		Type:      kind,
		JTI:       jti,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":       claims.Issuer,
		"sub":       claims.Subject,
		"aud":       claims.Audience,
		"client_id": claims.ClientID,
		"resource":  claims.Resource,
		"scope":     claims.Scope,
		"type":      claims.Type,
		"jti":       claims.JTI,
		"iat":       claims.IssuedAt.Unix(),
		"exp":       claims.ExpiresAt.Unix(),
	})
	token.Header["kid"] = i.keys.KeyID()

	serialized, err := token.SignedString(i.keys.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return &Token{
		JTI:        jti,
		Kind:       kind,
		Claims:     claims,
		Serialized: serialized,
	}, nil
}

// newTokenID generates a unique token identifier with a kind prefix,
// e.g. "access_b1946ac92492d2347c6235b4d2611184".
func newTokenID(kind string) string {
	return kind + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
