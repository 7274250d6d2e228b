package signing

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestNewKeyProvider(t *testing.T) {
	kp, err := NewKeyProvider()
	if err != nil {
		t.Fatalf("NewKeyProvider() error = %v", err)
	}

	if kp.KeyID() != DefaultKeyID {
		t.Errorf("KeyID() = %q, want %q", kp.KeyID(), DefaultKeyID)
	}
	if kp.PrivateKey() == nil {
		t.Fatal("PrivateKey() returned nil")
	}
	if kp.PrivateKey().N.BitLen() != 2048 {
		t.Errorf("key size = %d bits, want 2048", kp.PrivateKey().N.BitLen())
	}
}

func TestKeyProvider_PublicJWK(t *testing.T) {
	kp, err := NewKeyProvider()
	if err != nil {
		t.Fatalf("NewKeyProvider() error = %v", err)
	}

	jwk := kp.PublicJWK()

	if jwk.Kty != "RSA" {
		t.Errorf("Kty = %q, want %q", jwk.Kty, "RSA")
	}
	if jwk.Kid != DefaultKeyID {
		t.Errorf("Kid = %q, want %q", jwk.Kid, DefaultKeyID)
	}
	if jwk.Use != "sig" {
		t.Errorf("Use = %q, want %q", jwk.Use, "sig")
	}
	if jwk.Alg != "RS256" {
		t.Errorf("Alg = %q, want %q", jwk.Alg, "RS256")
	}
	if jwk.N == "" {
		t.Error("N should not be empty")
	}
	// 65537 encodes as AQAB in base64url
	if jwk.E != "AQAB" {
		t.Errorf("E = %q, want %q", jwk.E, "AQAB")
	}
}

func TestKeyProvider_JWKS(t *testing.T) {
	kp, err := NewKeyProvider()
	if err != nil {
		t.Fatalf("NewKeyProvider() error = %v", err)
	}

	set := kp.JWKS()
	if len(set.Keys) != 1 {
		t.Fatalf("len(Keys) = %d, want 1", len(set.Keys))
	}
	if set.Keys[0].Kid != DefaultKeyID {
		t.Errorf("Keys[0].Kid = %q, want %q", set.Keys[0].Kid, DefaultKeyID)
	}
}

func TestLoadKeyProvider(t *testing.T) {
	original, err := NewKeyProvider()
	if err != nil {
		t.Fatalf("NewKeyProvider() error = %v", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(original.PrivateKey())
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	loaded, err := LoadKeyProvider(pemBytes, "custom-key")
	if err != nil {
		t.Fatalf("LoadKeyProvider() error = %v", err)
	}

	if loaded.KeyID() != "custom-key" {
		t.Errorf("KeyID() = %q, want %q", loaded.KeyID(), "custom-key")
	}
	if loaded.PrivateKey().N.Cmp(original.PrivateKey().N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadKeyProvider_PKCS1(t *testing.T) {
	original, err := NewKeyProvider()
	if err != nil {
		t.Fatalf("NewKeyProvider() error = %v", err)
	}

	der := x509.MarshalPKCS1PrivateKey(original.PrivateKey())
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	loaded, err := LoadKeyProvider(pemBytes, "")
	if err != nil {
		t.Fatalf("LoadKeyProvider() error = %v", err)
	}
	if loaded.KeyID() != DefaultKeyID {
		t.Errorf("KeyID() = %q, want %q", loaded.KeyID(), DefaultKeyID)
	}
}

func TestLoadKeyProvider_InvalidPEM(t *testing.T) {
	if _, err := LoadKeyProvider([]byte("not a pem"), ""); err == nil {
		t.Error("expected error for invalid PEM")
	}
}
