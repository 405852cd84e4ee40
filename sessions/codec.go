package sessions

import (
	"strings"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

// Delimiter joins the three token strings inside the cookie blob.
const Delimiter = "|"

// Encode serializes the session's tokens into the encrypted cookie
// value: the tokens joined with the delimiter, encrypted as one blob.
// Token strings containing the delimiter are rejected; compact tokens
// never do.
func Encode(idToken, accessToken, refreshToken string, key []byte) (string, error) {
	for _, part := range []string{idToken, accessToken, refreshToken} {
		if strings.Contains(part, Delimiter) {
			return "", errors.Wrap(ierrors.ErrCrypto, "sessions.Encode token contains the delimiter")
		}
	}

	blob := strings.Join([]string{idToken, accessToken, refreshToken}, Delimiter)
	cookieValue, err := keys.Encrypt(blob, key)
	if err != nil {
		return "", errors.Wrap(err, "sessions.Encode")
	}
	return cookieValue, nil
}

// Decode decrypts a cookie value and splits it back into the three
// token strings. A wrong key or tampered value fails with
// ErrDecryption; a decrypted blob with the wrong delimiter count fails
// with ErrSessionDecode.
func Decode(cookieValue string, key []byte) (idToken, accessToken, refreshToken string, err error) {
	blob, err := keys.Decrypt(cookieValue, key)
	if err != nil {
		return "", "", "", errors.Wrap(err, "sessions.Decode")
	}

	parts := strings.Split(blob, Delimiter)
	if len(parts) != 3 {
		return "", "", "", errors.Wrapf(ierrors.ErrSessionDecode, "sessions.Decode expected 3 parts, got %d", len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}
