package keys

import (
	"crypto/sha256"
	"encoding/pem"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
)

// AES-256 key size used for all session and token encryption.
const KeySize = 32

// DeriveKey derives a symmetric AES key from a shared secret.
// The derivation is a plain SHA-256 digest: deterministic, the same
// secret always yields the same key.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// DeriveKeyFromPEM derives a symmetric AES key from PEM-encoded key
// material. The DER bytes of the first PEM block are expanded with
// HKDF-SHA256 into a KeySize key, so any PEM key pair configured for a
// tenant yields a stable session encryption key.
func DeriveKeyFromPEM(pemData []byte) ([]byte, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.Wrap(ierrors.ErrConfiguration, "keys.DeriveKeyFromPEM no PEM block found")
	}

	r := hkdf.New(sha256.New, block.Bytes, nil, []byte("oidc-session-key"))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "keys.DeriveKeyFromPEM hkdf expand")
	}
	return key, nil
}
