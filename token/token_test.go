package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-session/tenants"
)

const (
	testIssuer       = "https://server.example.com"
	testClientID     = "quarkus-web-app"
	testSubject      = "alice"
	testSessionID    = "session-1234"
	testEncSecret    = "AyM1SysPpbyDfgZld3umj1qzKObwVMkoqQ-EstJQLr_T-1qS0gZH75aKtMN3Yj0iPS4hcgUuTwjAzZr1Z9CAow"
	testVerifySecret = "verification-secret"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func nowFunc() time.Time { return testNow }

// newTestTenant builds an HMAC-verified tenant with a resolved session
// key and the given internal ID token lifetime.
func newTestTenant(t *testing.T, lifetime time.Duration) *tenants.Tenant {
	t.Helper()

	tenant := &tenants.Tenant{
		ID:                 "code-flow",
		ClientID:           testClientID,
		ClientSecret:       "secret",
		Issuer:             testIssuer,
		EncryptionSecret:   testEncSecret,
		VerificationSecret: testVerifySecret,
		IDTokenLifetime:    tenants.Duration(lifetime),
	}
	require.NoError(t, tenant.ResolveSessionKey())
	return tenant
}

// signProviderToken mints a provider-style ID token signed with the
// tenant's verification secret.
func signProviderToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testVerifySecret))
	require.NoError(t, err)
	return signed
}

func providerClaims(overrides jwt.MapClaims) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"sub": testSubject,
		"aud": testClientID,
		"sid": testSessionID,
		"iat": testNow.Unix(),
		"exp": testNow.Add(5 * time.Minute).Unix(),
	}
	for name, value := range overrides {
		claims[name] = value
	}
	return claims
}
