package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-oidc-session/tenants"
)

// registered claims the issuer controls; custom claims from the source
// token are carried over, these are not.
var reservedClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {},
	"jti": {}, SessionIDClaim: {}, NonceClaim: {}, UserInfoClaim: {},
}

// Issuer mints the internal session ID token stored in the session
// cookie. Its lifetime is the tenant's configured id_token_lifetime,
// independent of the provider token's own expiry.
type Issuer struct {
	nowFunc func() time.Time
}

type IssuerOption func(*Issuer)

// WithIssuerNowFunc sets the now time function (primarily for testing)
func WithIssuerNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func NewIssuer(options ...IssuerOption) *Issuer {
	i := &Issuer{nowFunc: time.Now}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// IssueSessionToken creates the internal ID token for a session from
// verified provider claims. The sid is preserved when the provider
// issued one so front and back-channel logout can correlate sessions;
// otherwise a fresh one is generated. A non-nil userInfo map is
// embedded as the userinfo claim (embedded cache mode). Returns the
// signed compact token and the session id.
func (i *Issuer) IssueSessionToken(t *tenants.Tenant, src *Claims, userInfo map[string]any) (string, string, error) {
	sid := src.SessionID
	if sid == "" {
		sid = uuid.New().String()
	}

	issuer := src.Issuer
	if issuer == "" {
		issuer = t.Issuer
	}

	now := i.nowFunc()
	claims := jwt.MapClaims{
		"iss":          issuer,
		"sub":          src.Subject,
		"aud":          t.ClientID,
		SessionIDClaim: sid,
		"iat":          now.Unix(),
		"exp":          now.Add(t.IDTokenLifetime.Std()).Unix(),
		"jti":          uuid.New().String(),
	}
	if src.Nonce != "" {
		claims[NonceClaim] = src.Nonce
	}
	for name, value := range src.Raw {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		claims[name] = value
	}
	if userInfo != nil {
		claims[UserInfoClaim] = userInfo
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.SessionKey())
	if err != nil {
		return "", "", errors.Wrap(err, "Issuer.IssueSessionToken sign")
	}
	return signed, sid, nil
}
