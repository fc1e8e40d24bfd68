package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/arklim/appmarket-accounts/internal/core/port"
)

func testHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	hasher, err := NewArgon2Hasher(port.Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func TestArgon2HasherRoundTrip(t *testing.T) {
	hasher := testHasher(t)
	password := "correct horse battery staple"

	encoded, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != argon2Variant || parts[1] != argon2Version {
		t.Fatalf("unexpected hash format: %q", encoded)
	}
	if parts[2] != "m=8192,t=1,p=1" {
		t.Fatalf("unexpected params segment: %s", parts[2])
	}

	ok, err := hasher.Verify(password, encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for correct password")
	}

	ok, err = hasher.Verify("Tr0ub4dor&3", encoded)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Fatal("Verify returned true for wrong password")
	}
}

func TestArgon2HasherSaltsEachHash(t *testing.T) {
	hasher := testHasher(t)

	first, err := hasher.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	second, err := hasher.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestArgon2HasherVerifyUsesEmbeddedParams(t *testing.T) {
	weak := testHasher(t)
	encoded, err := weak.Hash("rotate-me")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	strong, err := NewArgon2Hasher(DefaultArgon2Params())
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	ok, err := strong.Verify("rotate-me", encoded)
	if err != nil || !ok {
		t.Fatalf("expected hash produced with other params to verify, ok=%v err=%v", ok, err)
	}
}

func TestArgon2HasherRejectsMalformedHash(t *testing.T) {
	hasher := testHasher(t)

	for _, encoded := range []string{
		"not-a-hash",
		"bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"argon2id$v=19$m=8192,t=1$c2FsdA$aGFzaA",
	} {
		if _, err := hasher.Verify("password", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}

	ok, err := hasher.Verify("", "argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA")
	if err != nil || ok {
		t.Fatalf("expected empty password to fail closed, ok=%v err=%v", ok, err)
	}
}

func TestNewArgon2HasherValidatesParams(t *testing.T) {
	params := DefaultArgon2Params()
	params.Memory = 1024
	if _, err := NewArgon2Hasher(params); !errors.Is(err, errInvalidConfig) {
		t.Fatalf("expected errInvalidConfig, got %v", err)
	}
}
