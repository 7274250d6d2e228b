package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauthd/oauthd/storage"
)

// GenerateRandomString creates a random base64url string of n bytes of
// entropy
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("testutil: rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GeneratePKCEPair creates a PKCE code verifier and its S256 challenge
func GeneratePKCEPair() (verifier, challenge string) {
	verifier = GenerateRandomString(32) // 43 base64url characters
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

// GenerateTestClient creates a test OAuth client whose secret is "secret"
func GenerateTestClient() *storage.Client {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("testutil: bcrypt failed: %v", err))
	}
	now := time.Now()
	return &storage.Client{
		ClientID:                "mcp_testclient0000000000000000000000",
		ClientSecretHash:        string(hash),
		ClientName:              "Test Client",
		ClientDescription:       "A test client",
		DeveloperName:           "Test Developer",
		DeveloperEmail:          "test@example.com",
		RedirectURIs:            []string{"http://localhost:6274/oauth/callback/debug"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// GenerateTestAuthorizationCode creates a test authorization code bound to
// the test client
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    "mcp_testclient0000000000000000000000",
		RedirectURI: "http://localhost:6274/oauth/callback/debug",
		Resource:    "http://localhost:3000/mcp",
		Scope:       "mcp:tools",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// DecodeJWT parses a signed token against the given public key and returns
// its claims. It fails the test on any parse or signature error.
func DecodeJWT(t *testing.T, serialized string, publicKey *rsa.PublicKey) jwt.MapClaims {
	t.Helper()

	parsed, err := jwt.Parse(serialized, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		t.Fatalf("failed to parse JWT: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("JWT signature is invalid")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("unexpected claims type %T", parsed.Claims)
	}
	return claims
}
