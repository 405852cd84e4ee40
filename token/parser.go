package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

// Decode parses a compact signed token into its claims without any
// signature or expiry validation. This is the inspection path used for
// logout correlation and test tooling; session creation must go through
// Verifier instead.
func Decode(compact string) (*Claims, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, errors.Wrapf(ierrors.ErrMalformedToken, "token.Decode expected 3 parts, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.Wrap(ierrors.ErrMalformedToken, "token.Decode payload is not base64url")
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Wrap(ierrors.ErrMalformedToken, "token.Decode payload is not a JSON object")
	}
	return claimsFromMap(raw), nil
}

// DecodeWithKey decodes a compact token that may be encrypted. An
// encrypted token (five-part structure) is decrypted with the tenant
// key first; the inner signed token is then decoded. Both paths share
// the Decode output contract.
func DecodeWithKey(compact string, key []byte) (*Claims, error) {
	if keys.IsEncrypted(compact) {
		inner, err := keys.Decrypt(compact, key)
		if err != nil {
			return nil, err
		}
		return Decode(inner)
	}
	return Decode(compact)
}

// IsEncrypted reports whether the compact token is encrypted rather
// than merely signed.
func IsEncrypted(compact string) bool {
	return keys.IsEncrypted(compact)
}
