package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrKeyNotFound = errors.New("key not found")

// KeyProvider supplies the RSA key used to sign session credentials and the public
// keys accepted when verifying them.
type KeyProvider interface {
	SigningKey() (kid string, key *rsa.PrivateKey, err error)
	VerificationKey(kid string) (*rsa.PublicKey, error)
	VerificationKeys() map[string]*rsa.PublicKey
}

type staticKeyProvider struct {
	signingKID string
	signingKey *rsa.PrivateKey
	keys       map[string]*rsa.PublicKey
}

// NewDirKeyProvider loads PEM keys from dir. The kid of each key is its file name
// without extension; the first private key in name order signs.
func NewDirKeyProvider(dir string) (KeyProvider, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	provider := &staticKeyProvider{keys: make(map[string]*rsa.PublicKey)}

	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}

		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("decode PEM block from %s", path)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		private, public := parseRSAKey(block.Bytes)
		switch {
		case private != nil:
			if provider.signingKey == nil {
				provider.signingKey = private
				provider.signingKID = kid
			}
			provider.keys[kid] = &private.PublicKey
		case public != nil:
			provider.keys[kid] = public
		default:
			return nil, fmt.Errorf("parse RSA key from %s", path)
		}
	}

	if provider.signingKey == nil {
		return nil, errors.New("no private key found for signing")
	}

	return provider, nil
}

// NewEphemeralKeyProvider generates a throwaway signing key. Credentials it signs do
// not survive a restart.
func NewEphemeralKeyProvider() (KeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return NewStaticKeyProvider("ephemeral", key), nil
}

// NewStaticKeyProvider wraps an already loaded key.
func NewStaticKeyProvider(kid string, key *rsa.PrivateKey) KeyProvider {
	return &staticKeyProvider{
		signingKID: kid,
		signingKey: key,
		keys:       map[string]*rsa.PublicKey{kid: &key.PublicKey},
	}
}

// NewKeyProvider loads keys from keyDir when set. Outside production an empty keyDir
// falls back to an ephemeral key.
func NewKeyProvider(env, keyDir string) (KeyProvider, error) {
	if strings.TrimSpace(keyDir) != "" {
		if _, err := os.Stat(keyDir); err == nil || env == "production" {
			return NewDirKeyProvider(keyDir)
		}
	}
	if env == "production" {
		return nil, errors.New("jwt key directory is required in production")
	}
	return NewEphemeralKeyProvider()
}

func (p *staticKeyProvider) SigningKey() (string, *rsa.PrivateKey, error) {
	if p.signingKey == nil {
		return "", nil, ErrKeyNotFound
	}
	return p.signingKID, p.signingKey, nil
}

func (p *staticKeyProvider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

func (p *staticKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, *rsa.PublicKey) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return nil, key
	}
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return nil, rsaKey
		}
	}
	return nil, nil
}
