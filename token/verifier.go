package token

import (
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/tenants"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

// Verifier validates provider tokens before their claims are trusted
// for session creation. Signature and expiry validation is mandatory on
// this path; the Decode inspection path never verifies.
type Verifier struct {
	nowFunc func() time.Time
}

type VerifierOption func(*Verifier)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.nowFunc = now
	}
}

func NewVerifier(options ...VerifierOption) *Verifier {
	v := &Verifier{nowFunc: time.Now}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Verify validates a compact token against the tenant's verification
// key material and returns its claims. Encrypted tokens are decrypted
// with the tenant session key first.
func (v *Verifier) Verify(rawToken string, t *tenants.Tenant) (*Claims, error) {
	if keys.IsEncrypted(rawToken) {
		inner, err := keys.Decrypt(rawToken, t.SessionKey())
		if err != nil {
			return nil, err
		}
		rawToken = inner
	}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(v.nowFunc)}
	if t.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.Issuer))
	}

	parsed, err := jwt.Parse(rawToken, verificationKeyFunc(t), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Wrap(ierrors.ErrTokenExpired, "Verifier.Verify")
		}
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, errors.Wrap(ierrors.ErrMalformedToken, "Verifier.Verify")
		}
		return nil, errors.Wrapf(ierrors.ErrInvalidToken, "Verifier.Verify: %v", err)
	}
	if !parsed.Valid {
		return nil, errors.Wrap(ierrors.ErrInvalidToken, "Verifier.Verify token not valid")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(ierrors.ErrInvalidToken, "Verifier.Verify error extracting claims")
	}
	return claimsFromMap(mapClaims), nil
}

// VerifyLogoutToken validates a back-channel logout token. Beyond the
// signature it enforces the logout-token claim rules: the back-channel
// logout event must be declared, a nonce must not be present, and the
// token must carry a sid or sub to correlate sessions with.
func (v *Verifier) VerifyLogoutToken(rawToken string, t *tenants.Tenant) (*Claims, error) {
	claims, err := v.Verify(rawToken, t)
	if err != nil {
		return nil, err
	}

	events, ok := claims.Raw[EventsClaim].(map[string]any)
	if !ok {
		return nil, errors.Wrap(ierrors.ErrInvalidToken, "Verifier.VerifyLogoutToken missing events claim")
	}
	if _, ok := events[BackchannelLogoutEvent]; !ok {
		return nil, errors.Wrap(ierrors.ErrInvalidToken, "Verifier.VerifyLogoutToken missing back-channel logout event")
	}
	if claims.Nonce != "" {
		return nil, errors.Wrap(ierrors.ErrInvalidToken, "Verifier.VerifyLogoutToken nonce must not be present")
	}
	if claims.SessionID == "" && claims.Subject == "" {
		return nil, errors.Wrap(ierrors.ErrInvalidToken, "Verifier.VerifyLogoutToken needs sid or sub")
	}
	return claims, nil
}

// BackchannelLogoutEvent is the member the events claim of a logout
// token must declare (OpenID Connect Back-Channel Logout 1.0).
const BackchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

func verificationKeyFunc(t *tenants.Tenant) jwt.Keyfunc {
	return func(tok *jwt.Token) (any, error) {
		if t.VerificationSecret != "" {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return []byte(t.VerificationSecret), nil
		}
		if t.VerificationKeyPEM != "" {
			switch tok.Method.(type) {
			case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
				return parsePublicKeyPEM(t.VerificationKeyPEM)
			default:
				return nil, errors.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
		}
		return nil, errors.Wrapf(ierrors.ErrConfiguration, "tenant %s has no verification key material", t.ID)
	}
}

func parsePublicKeyPEM(pemData string) (any, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	publicKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse public key")
	}
	return publicKey, nil
}
