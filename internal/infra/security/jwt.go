package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/appmarket-accounts/internal/core/domain"
	"github.com/arklim/appmarket-accounts/internal/core/port"
)

var (
	// ErrInvalidCredential indicates a malformed, unsigned or foreign session credential.
	ErrInvalidCredential = errors.New("jwt: invalid credential")
	// ErrExpiredCredential indicates the credential was valid but its exp has passed.
	ErrExpiredCredential = errors.New("jwt: credential expired")
)

// SessionClaims is the payload of a session credential. Subject and uid both carry
// the account id.
type SessionClaims struct {
	AccountID string `json:"uid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// JWTIssuer signs and verifies RS256 session credentials.
type JWTIssuer struct {
	keys   KeyProvider
	issuer string
	now    func() time.Time
}

func NewJWTIssuer(keys KeyProvider, issuer string) *JWTIssuer {
	return &JWTIssuer{keys: keys, issuer: issuer, now: time.Now}
}

// WithClock overrides the verification clock.
func (j *JWTIssuer) WithClock(now func() time.Time) *JWTIssuer {
	if now != nil {
		j.now = now
	}
	return j
}

// Issue signs a credential for account valid from issuedAt for ttl.
func (j *JWTIssuer) Issue(account domain.AccountSummary, issuedAt time.Time, ttl time.Duration) (string, error) {
	accountID := strings.TrimSpace(account.ID)
	if accountID == "" {
		return "", fmt.Errorf("jwt: account id is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("jwt: ttl must be positive")
	}

	kid, key, err := j.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}

	issuedAt = issuedAt.UTC()
	claims := SessionClaims{
		AccountID: accountID,
		Role:      string(account.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// Verify checks signature, issuer, expiry and role and returns the claims.
func (j *JWTIssuer) Verify(raw string) (*SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidCredential
	}

	claims := &SessionClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
	)

	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return j.keys.VerificationKey(kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.AccountID == "" || claims.Subject != claims.AccountID {
		return nil, ErrInvalidCredential
	}
	if !domain.Role(claims.Role).Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidCredential, claims.Role)
	}

	return claims, nil
}

// JWKS renders the verification keys as a JSON Web Key Set.
func (j *JWTIssuer) JWKS() ([]byte, error) {
	keys := j.keys.VerificationKeys()

	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	entries := make([]map[string]string, 0, len(kids))
	for _, kid := range kids {
		key := keys[kid]
		if key == nil {
			continue
		}
		entries = append(entries, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}

	return json.Marshal(map[string]any{"keys": entries})
}

var _ port.CredentialIssuer = (*JWTIssuer)(nil)
