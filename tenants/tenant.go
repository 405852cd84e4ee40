package tenants

import (
	"time"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

// UserInfoMode selects how fetched user-info is retained for a tenant.
// Resolved once at configuration load, never re-interpreted per request.
type UserInfoMode string

const (
	// UserInfoModeNone disables user-info fetching entirely.
	UserInfoModeNone UserInfoMode = "none"
	// UserInfoModeSeparate caches user-info per subject with a TTL.
	UserInfoModeSeparate UserInfoMode = "separate"
	// UserInfoModeEmbedded embeds user-info as a claim in the internal
	// ID token; the separate cache is never touched.
	UserInfoModeEmbedded UserInfoMode = "embedded"
)

// Tenant is the immutable per-tenant OIDC client configuration.
// Each tenant has its own provider endpoints, encryption key material
// and session policy; it is looked up by tenant id on every request.
type Tenant struct {
	ID           string `yaml:"id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Issuer identifies the authorization server. When DiscoveryURL is
	// set, endpoints and the token verifier are resolved via OIDC
	// discovery; otherwise the explicit endpoints below are used.
	Issuer                string `yaml:"issuer"`
	DiscoveryURL          string `yaml:"discovery_url"`
	AuthorizationEndpoint string `yaml:"authorization_endpoint"`
	TokenEndpoint         string `yaml:"token_endpoint"`
	UserInfoEndpoint      string `yaml:"user_info_endpoint"`
	IntrospectionEndpoint string `yaml:"introspection_endpoint"`
	EndSessionEndpoint    string `yaml:"end_session_endpoint"`

	// Session encryption key material: a raw shared secret (digested
	// into an AES key) or PEM-encoded key material. Exactly one must be
	// set.
	EncryptionSecret string `yaml:"encryption_secret"`
	EncryptionKeyPEM string `yaml:"encryption_key_pem"`

	// Provider ID token verification material for static-endpoint
	// tenants: an HMAC secret or a PEM-encoded public key.
	VerificationSecret string `yaml:"verification_secret"`
	VerificationKeyPEM string `yaml:"verification_key_pem"`

	IDTokenLifetime  Duration     `yaml:"id_token_lifetime"`
	UserInfoMode     UserInfoMode `yaml:"user_info_mode"`
	UserInfoCacheTTL Duration     `yaml:"user_info_cache_ttl"`

	sessionKey []byte
}

// SessionKey returns the AES key all of the tenant's session and token
// encryption uses. Resolved by ResolveSessionKey at load time.
func (t *Tenant) SessionKey() []byte {
	return t.sessionKey
}

// ResolveSessionKey derives and pins the tenant's session encryption
// key from its configured key material.
func (t *Tenant) ResolveSessionKey() error {
	switch {
	case t.EncryptionSecret != "" && t.EncryptionKeyPEM != "":
		return errors.Wrapf(ierrors.ErrConfiguration, "tenant %s: encryption_secret and encryption_key_pem are mutually exclusive", t.ID)
	case t.EncryptionSecret != "":
		t.sessionKey = keys.DeriveKey(t.EncryptionSecret)
		return nil
	case t.EncryptionKeyPEM != "":
		key, err := keys.DeriveKeyFromPEM([]byte(t.EncryptionKeyPEM))
		if err != nil {
			return errors.Wrapf(err, "tenant %s", t.ID)
		}
		t.sessionKey = key
		return nil
	default:
		return errors.Wrapf(ierrors.ErrConfiguration, "tenant %s: no encryption key material", t.ID)
	}
}

// Validate checks the invariants that make a tenant usable at runtime.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return errors.Wrap(ierrors.ErrConfiguration, "tenant id is required")
	}
	if t.ClientID == "" {
		return errors.Wrapf(ierrors.ErrConfiguration, "tenant %s: client_id is required", t.ID)
	}
	if t.DiscoveryURL == "" {
		if t.AuthorizationEndpoint == "" || t.TokenEndpoint == "" {
			return errors.Wrapf(ierrors.ErrConfiguration, "tenant %s: authorization_endpoint and token_endpoint are required without discovery_url", t.ID)
		}
	}
	switch t.UserInfoMode {
	case "", UserInfoModeNone:
	case UserInfoModeSeparate, UserInfoModeEmbedded:
		if t.UserInfoEndpoint == "" {
			return errors.Wrapf(ierrors.ErrConfiguration, "tenant %s: user_info_endpoint is required for user_info_mode %q", t.ID, t.UserInfoMode)
		}
	default:
		return errors.Wrapf(ierrors.ErrConfiguration, "tenant %s: unknown user_info_mode %q", t.ID, t.UserInfoMode)
	}
	if t.IDTokenLifetime <= 0 {
		return errors.Wrapf(ierrors.ErrConfiguration, "tenant %s: id_token_lifetime must be positive", t.ID)
	}
	return nil
}

// Mode returns the tenant's user-info mode with the zero value
// normalized to UserInfoModeNone.
func (t *Tenant) Mode() UserInfoMode {
	if t.UserInfoMode == "" {
		return UserInfoModeNone
	}
	return t.UserInfoMode
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "300s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(ierrors.ErrConfiguration, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
