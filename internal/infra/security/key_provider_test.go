package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDirKeyProviderLoadsSigningAndVerificationKeys(t *testing.T) {
	dir := t.TempDir()

	current, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	previous, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}

	writePEM(t, filepath.Join(dir, "2026-10.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(current))
	publicDER, err := x509.MarshalPKIXPublicKey(&previous.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	writePEM(t, filepath.Join(dir, "2026-04.pub"), "PUBLIC KEY", publicDER)

	provider, err := NewDirKeyProvider(dir)
	if err != nil {
		t.Fatalf("NewDirKeyProvider: %v", err)
	}

	kid, key, err := provider.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	if kid != "2026-10" || !key.Equal(current) {
		t.Fatalf("unexpected signing key %q", kid)
	}

	if _, err := provider.VerificationKey("2026-04"); err != nil {
		t.Fatalf("expected rotated public key to verify: %v", err)
	}
	if got := len(provider.VerificationKeys()); got != 2 {
		t.Fatalf("expected 2 verification keys, got %d", got)
	}
	if _, err := provider.VerificationKey("unknown"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestDirKeyProviderRequiresPrivateKey(t *testing.T) {
	dir := t.TempDir()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	writePEM(t, filepath.Join(dir, "only.pub"), "PUBLIC KEY", publicDER)

	if _, err := NewDirKeyProvider(dir); err == nil {
		t.Fatal("expected error without a private key")
	}
}

func TestNewKeyProviderEnvironments(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	provider, err := NewKeyProvider("development", missing)
	if err != nil {
		t.Fatalf("development should fall back to an ephemeral key: %v", err)
	}
	if kid, _, err := provider.SigningKey(); err != nil || kid != "ephemeral" {
		t.Fatalf("unexpected signing key %q: %v", kid, err)
	}

	if _, err := NewKeyProvider("production", missing); err == nil {
		t.Fatal("production must not start without keys")
	}
	if _, err := NewKeyProvider("production", ""); err == nil {
		t.Fatal("production must not start without a key directory")
	}
}
