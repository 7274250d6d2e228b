// Package signing owns the server's RSA signing key and mints the RS256
// JWTs issued by the token endpoint. The key pair is generated or loaded
// once at process start and never rotated during the process lifetime.
package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// DefaultKeyID is the key identifier published in the JWKS document and
// stamped into every JWT header.
const DefaultKeyID = "key-1"

// defaultKeySize is the RSA modulus size for generated keys.
const defaultKeySize = 2048

// JWK is the JSON Web Key representation of the signing public key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the document served at /.well-known/jwks.json.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// KeyProvider owns the process-wide RSA key pair. Read-only after
// construction, so it is safe for concurrent use.
type KeyProvider struct {
	privateKey *rsa.PrivateKey
	keyID      string
}

// NewKeyProvider generates a fresh 2048-bit RSA key pair with the default
// key ID.
func NewKeyProvider() (*KeyProvider, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, defaultKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	return &KeyProvider{
		privateKey: privateKey,
		keyID:      DefaultKeyID,
	}, nil
}

// LoadKeyProvider loads a PKCS#8 or PKCS#1 PEM-encoded RSA private key.
// An empty keyID falls back to DefaultKeyID. Callers should treat an error
// here as fatal: running without key material is not a degraded state the
// server supports.
func LoadKeyProvider(pemBytes []byte, keyID string) (*KeyProvider, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in key material")
	}

	var privateKey *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PEM contains a non-RSA private key")
		}
		privateKey = rsaKey
	} else if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		privateKey = rsaKey
	} else {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}

	if keyID == "" {
		keyID = DefaultKeyID
	}

	return &KeyProvider{
		privateKey: privateKey,
		keyID:      keyID,
	}, nil
}

// KeyID returns the fixed key identifier.
func (p *KeyProvider) KeyID() string {
	return p.keyID
}

// PrivateKey returns the signing key.
func (p *KeyProvider) PrivateKey() *rsa.PrivateKey {
	return p.privateKey
}

// PublicKey returns the verification key.
func (p *KeyProvider) PublicKey() *rsa.PublicKey {
	return &p.privateKey.PublicKey
}

// PublicJWK renders the public key as a JWK with base64url raw-encoded
// modulus and exponent.
func (p *KeyProvider) PublicJWK() JWK {
	publicKey := p.PublicKey()

	eBytes := []byte{
		byte(publicKey.E >> 24),
		byte(publicKey.E >> 16),
		byte(publicKey.E >> 8),
		byte(publicKey.E),
	}
	// Leading zero bytes are not part of the JWK exponent encoding
	for len(eBytes) > 1 && eBytes[0] == 0 {
		eBytes = eBytes[1:]
	}

	return JWK{
		Kty: "RSA",
		Kid: p.keyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(eBytes),
	}
}

// JWKS renders the single-key JWK set served by the discovery endpoint.
func (p *KeyProvider) JWKS() JWKSet {
	return JWKSet{Keys: []JWK{p.PublicJWK()}}
}
