package port

import (
	"time"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
)

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}

// CredentialIssuer signs session credentials for authenticated accounts.
type CredentialIssuer interface {
	Issue(account domain.AccountSummary, issuedAt time.Time, ttl time.Duration) (string, error)
}
