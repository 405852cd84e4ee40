package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
)

// Encrypted values use the JWE compact serialization in direct mode:
// header..nonce.ciphertext.tag with an empty encrypted-key part. The
// protected header is the GCM additional authenticated data, so any
// header tampering fails the integrity check.
var jweProtectedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"dir","enc":"A256GCM"}`))

const (
	nonceSize = 12
	tagSize   = 16
)

// Encrypt encrypts a plaintext string with an AES-256-GCM key derived
// via DeriveKey or DeriveKeyFromPEM. The output is randomized per call;
// decryption requires the matching key.
func Encrypt(plaintext string, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(ierrors.ErrCrypto, "keys.Encrypt nonce generation")
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), []byte(jweProtectedHeader))
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	enc := base64.RawURLEncoding
	return strings.Join([]string{
		jweProtectedHeader,
		"",
		enc.EncodeToString(nonce),
		enc.EncodeToString(ciphertext),
		enc.EncodeToString(tag),
	}, "."), nil
}

// Decrypt decrypts a value produced by Encrypt. It fails with
// ErrDecryption on a key mismatch, truncated input or integrity-check
// failure; it never returns garbage plaintext silently.
func Decrypt(token string, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return "", errors.Wrapf(ierrors.ErrDecryption, "keys.Decrypt expected 5 parts, got %d", len(parts))
	}

	enc := base64.RawURLEncoding
	nonce, err := enc.DecodeString(parts[2])
	if err != nil || len(nonce) != nonceSize {
		return "", errors.Wrap(ierrors.ErrDecryption, "keys.Decrypt bad nonce")
	}
	ciphertext, err := enc.DecodeString(parts[3])
	if err != nil {
		return "", errors.Wrap(ierrors.ErrDecryption, "keys.Decrypt bad ciphertext")
	}
	tag, err := enc.DecodeString(parts[4])
	if err != nil || len(tag) != tagSize {
		return "", errors.Wrap(ierrors.ErrDecryption, "keys.Decrypt bad tag")
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), []byte(parts[0]))
	if err != nil {
		return "", errors.Wrap(ierrors.ErrDecryption, "keys.Decrypt integrity check")
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a compact token carries the five-part
// encrypted structure, as opposed to a three-part signed token.
func IsEncrypted(token string) bool {
	return strings.Count(token, ".") == 4
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.Wrapf(ierrors.ErrCrypto, "keys.newAEAD key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(ierrors.ErrCrypto, "keys.newAEAD cipher init")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(ierrors.ErrCrypto, "keys.newAEAD gcm init")
	}
	return aead, nil
}
