package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-session/auth/flowstate"
	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/sessions"
	"github.com/jrsteele09/go-oidc-session/tenants"
	"github.com/jrsteele09/go-oidc-session/token"
	"github.com/jrsteele09/go-oidc-session/userinfo"
)

const (
	testIssuer       = "https://server.example.com"
	testClientID     = "quarkus-web-app"
	testEncSecret    = "AyM1SysPpbyDfgZld3umj1qzKObwVMkoqQ-EstJQLr_T-1qS0gZH75aKtMN3Yj0iPS4hcgUuTwjAzZr1Z9CAow"
	testVerifySecret = "verification-secret-for-provider-tokens"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

// testClock is a mutable clock shared between the service under test
// and the fake provider.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: testNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeProvider is an httptest OIDC provider serving the token,
// user-info and introspection endpoints.
type fakeProvider struct {
	server *httptest.Server
	clock  *testClock

	mu                 sync.Mutex
	nonce              string
	subject            string
	accessToken        string
	refreshAccessToken string
	userinfoName       string
	introspectUsers    map[string]string
	issueIDToken       bool
	refreshIDToken     bool
	refreshCalls       int
	userinfoCalls      int
	onRefresh          func()
}

func newFakeProvider(t *testing.T, clock *testClock) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{
		clock:              clock,
		subject:            "alice",
		accessToken:        "access-token-1",
		refreshAccessToken: "access-token-2",
		userinfoName:       "alice",
		introspectUsers:    map[string]string{"access-token-1": "alice", "access-token-2": "admin"},
		issueIDToken:       true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", fp.handleToken)
	mux.HandleFunc("GET /userinfo", fp.handleUserInfo)
	mux.HandleFunc("POST /introspect", fp.handleIntrospect)
	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	fp.mu.Lock()
	response := map[string]any{"token_type": "Bearer"}
	if r.Form.Get("grant_type") == "refresh_token" {
		fp.refreshCalls++
		response["access_token"] = fp.refreshAccessToken
		response["refresh_token"] = "refresh-token-2"
		if fp.refreshIDToken {
			response["id_token"] = fp.signIDTokenLocked()
		}
		hook := fp.onRefresh
		fp.mu.Unlock()
		if hook != nil {
			hook()
		}
	} else {
		response["access_token"] = fp.accessToken
		response["refresh_token"] = "refresh-token-1"
		if fp.issueIDToken {
			response["id_token"] = fp.signIDTokenLocked()
		}
		fp.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (fp *fakeProvider) signIDTokenLocked() string {
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"sub": fp.subject,
		"aud": testClientID,
		"iat": fp.clock.Now().Unix(),
		"exp": fp.clock.Now().Add(5 * time.Minute).Unix(),
		"sid": "provider-session-" + fp.subject,
		"jti": uuid.NewString(),
	}
	if fp.nonce != "" {
		claims["nonce"] = fp.nonce
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testVerifySecret))
	if err != nil {
		panic(err)
	}
	return signed
}

func (fp *fakeProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	fp.userinfoCalls++
	name := fp.userinfoName
	fp.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"preferred_username": name})
}

func (fp *fakeProvider) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	fp.mu.Lock()
	username, active := fp.introspectUsers[r.Form.Get("token")]
	fp.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"active": active, "username": username})
}

func (fp *fakeProvider) setNonce(nonce string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.nonce = nonce
}

func newFlowTenant(t *testing.T, fp *fakeProvider, modify ...func(*tenants.Tenant)) *tenants.Tenant {
	t.Helper()

	tenant := &tenants.Tenant{
		ID:                    "code-flow",
		ClientID:              testClientID,
		ClientSecret:          "client-secret",
		Issuer:                testIssuer,
		AuthorizationEndpoint: fp.server.URL + "/auth",
		TokenEndpoint:         fp.server.URL + "/token",
		EncryptionSecret:      testEncSecret,
		VerificationSecret:    testVerifySecret,
		IDTokenLifetime:       tenants.Duration(5 * time.Minute),
	}
	for _, m := range modify {
		m(tenant)
	}
	require.NoError(t, tenant.ResolveSessionKey())
	return tenant
}

type serviceFixture struct {
	service *Service
	repo    *tenants.InMemoryRepo
	index   *sessions.MemoryIndex
	cache   *userinfo.Cache
	clock   *testClock
}

func newServiceFixture(t *testing.T, fp *fakeProvider, clock *testClock, tenant *tenants.Tenant) *serviceFixture {
	t.Helper()

	repo := tenants.NewInMemoryRepo()
	require.NoError(t, repo.Upsert(tenant))

	index := sessions.NewMemoryIndex(sessions.WithIndexNowFunc(clock.Now))
	cache := userinfo.NewCache(userinfo.WithCacheNowFunc(clock.Now))

	service, err := New(repo, flowstate.NewInMemoryRepo(), index, cache,
		"http://localhost:8081",
		WithNowTime(clock.Now),
		WithHTTPClient(fp.server.Client()),
	)
	require.NoError(t, err)

	return &serviceFixture{service: service, repo: repo, index: index, cache: cache, clock: clock}
}

// login drives BeginLogin then HandleCallback against the fake
// provider and returns the established session.
func (f *serviceFixture) login(t *testing.T, fp *fakeProvider, tenant *tenants.Tenant) *Authentication {
	t.Helper()

	redirect, err := f.service.BeginLogin(context.Background(), tenant, "/home")
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	fp.setNonce(parsed.Query().Get("nonce"))

	authn, err := f.service.HandleCallback(context.Background(), tenant, state, "authorization-code")
	require.NoError(t, err)
	return authn
}

func TestHandleCallbackEstablishesSession(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)

	assert.Equal(t, "q_session_code-flow", authn.CookieName)
	assert.Equal(t, "alice", authn.Identity.Subject)
	assert.False(t, authn.Refreshed)

	idToken, accessToken, refreshToken, err := sessions.Decode(authn.CookieValue, tenant.SessionKey())
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", accessToken)
	assert.Equal(t, "refresh-token-1", refreshToken)

	claims, err := token.Decode(idToken)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, clock.Now().Add(5*time.Minute).Unix(), claims.ExpiresAt.Unix())

	_, err = fixture.index.Get(context.Background(), claims.Issuer, claims.SessionID)
	assert.NoError(t, err)
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	_, err := fixture.service.HandleCallback(context.Background(), tenant, "forged-state", "code")
	assert.True(t, ierrors.Is(err, ierrors.ErrStateMismatch))

	_, err = fixture.service.HandleCallback(context.Background(), tenant, "", "code")
	assert.True(t, ierrors.Is(err, ierrors.ErrStateMismatch))
}

func TestHandleCallbackStateIsSingleUse(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	redirect, err := fixture.service.BeginLogin(context.Background(), tenant, "/home")
	require.NoError(t, err)
	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	fp.setNonce(parsed.Query().Get("nonce"))

	_, err = fixture.service.HandleCallback(context.Background(), tenant, state, "code")
	require.NoError(t, err)

	_, err = fixture.service.HandleCallback(context.Background(), tenant, state, "code")
	assert.True(t, ierrors.Is(err, ierrors.ErrStateMismatch))
}

func TestHandleCallbackRejectsNonceMismatch(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	redirect, err := fixture.service.BeginLogin(context.Background(), tenant, "/home")
	require.NoError(t, err)
	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	fp.setNonce("a-nonce-from-someone-else")

	_, err = fixture.service.HandleCallback(context.Background(), tenant, parsed.Query().Get("state"), "code")
	assert.True(t, ierrors.Is(err, ierrors.ErrInvalidToken))
}

func TestHandleCallbackRejectsMissingNonce(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	redirect, err := fixture.service.BeginLogin(context.Background(), tenant, "/home")
	require.NoError(t, err)
	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	require.NotEmpty(t, parsed.Query().Get("nonce"))

	// The provider's ID token omits the nonce claim entirely.
	_, err = fixture.service.HandleCallback(context.Background(), tenant, parsed.Query().Get("state"), "code")
	assert.True(t, ierrors.Is(err, ierrors.ErrInvalidToken))

	_, err = fixture.index.Get(context.Background(), testIssuer, "provider-session-alice")
	assert.Error(t, err, "no session may be created from an unbound ID token")
}

func TestAuthenticateValidSession(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)

	again, err := fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Identity.Subject)
	assert.False(t, again.Refreshed)
	assert.Equal(t, authn.CookieValue, again.CookieValue)
}

func TestAuthenticateRejectsTamperedCookie(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	_, err := fixture.service.Authenticate(context.Background(), tenant, "not-a-session-cookie")
	assert.Error(t, err)

	authn := fixture.login(t, fp, tenant)
	_, err = fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue+"x")
	assert.True(t, ierrors.Is(err, ierrors.ErrDecryption))
}

func TestAuthenticateRefreshesExpiredSession(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)
	clock.Advance(5*time.Minute + time.Second)

	refreshed, err := fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	require.NoError(t, err)
	assert.True(t, refreshed.Refreshed)
	assert.NotEqual(t, authn.CookieValue, refreshed.CookieValue)

	_, accessToken, refreshToken, err := sessions.Decode(refreshed.CookieValue, tenant.SessionKey())
	require.NoError(t, err)
	assert.Equal(t, "access-token-2", accessToken)
	assert.Equal(t, "refresh-token-2", refreshToken)

	fp.mu.Lock()
	assert.Equal(t, 1, fp.refreshCalls)
	fp.mu.Unlock()
}

func TestAuthenticateIntrospectsAfterRefresh(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp, func(tn *tenants.Tenant) {
		tn.IntrospectionEndpoint = fp.server.URL + "/introspect"
	})
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)
	assert.Equal(t, "alice", authn.Identity.Subject)

	clock.Advance(5*time.Minute + time.Second)

	refreshed, err := fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	require.NoError(t, err)
	assert.Equal(t, "admin", refreshed.Identity.Subject)
}

func TestAuthenticateOpaqueTokenTenant(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	fp.issueIDToken = false
	tenant := newFlowTenant(t, fp, func(tn *tenants.Tenant) {
		tn.ID = "code-flow-token-introspection"
		tn.IntrospectionEndpoint = fp.server.URL + "/introspect"
	})
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)
	assert.Equal(t, "alice", authn.Identity.Subject)

	again, err := fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Identity.Subject)
}

func TestAuthenticateLogoutWinsOverRefresh(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)

	idToken, _, _, err := sessions.Decode(authn.CookieValue, tenant.SessionKey())
	require.NoError(t, err)
	claims, err := token.Decode(idToken)
	require.NoError(t, err)

	// The logout lands while the refresh exchange is in flight.
	fp.mu.Lock()
	fp.onRefresh = func() {
		_ = fixture.index.Delete(context.Background(), claims.Issuer, claims.SessionID)
	}
	fp.mu.Unlock()

	clock.Advance(5*time.Minute + time.Second)

	_, err = fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	assert.True(t, ierrors.Is(err, ierrors.ErrUnauthenticated))
	_, err = fixture.index.Get(context.Background(), claims.Issuer, claims.SessionID)
	assert.Error(t, err)
}

func TestAuthenticateAfterLogoutIsUnauthenticated(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp)
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)
	fixture.service.Logout(context.Background(), tenant, authn.CookieValue)

	_, err := fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	assert.True(t, ierrors.Is(err, ierrors.ErrUnauthenticated))
}

func TestUserInfoModes(t *testing.T) {
	t.Run("embedded mode keeps the cache empty", func(t *testing.T) {
		clock := newTestClock()
		fp := newFakeProvider(t, clock)
		tenant := newFlowTenant(t, fp, func(tn *tenants.Tenant) {
			tn.UserInfoEndpoint = fp.server.URL + "/userinfo"
			tn.UserInfoMode = tenants.UserInfoModeEmbedded
		})
		fixture := newServiceFixture(t, fp, clock, tenant)

		authn := fixture.login(t, fp, tenant)
		assert.Equal(t, "alice", authn.Identity.UserInfo["preferred_username"])
		assert.Equal(t, 0, fixture.cache.Size())
	})

	t.Run("separate mode caches one entry", func(t *testing.T) {
		clock := newTestClock()
		fp := newFakeProvider(t, clock)
		tenant := newFlowTenant(t, fp, func(tn *tenants.Tenant) {
			tn.UserInfoEndpoint = fp.server.URL + "/userinfo"
			tn.UserInfoMode = tenants.UserInfoModeSeparate
			tn.UserInfoCacheTTL = tenants.Duration(3 * time.Second)
		})
		fixture := newServiceFixture(t, fp, clock, tenant)

		authn := fixture.login(t, fp, tenant)
		assert.Equal(t, "alice", authn.Identity.UserInfo["preferred_username"])
		assert.Equal(t, 1, fixture.cache.Size())
	})
}

func TestSeparateUserInfoRefetchesAfterTTL(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp, func(tn *tenants.Tenant) {
		tn.UserInfoEndpoint = fp.server.URL + "/userinfo"
		tn.UserInfoMode = tenants.UserInfoModeSeparate
		tn.UserInfoCacheTTL = tenants.Duration(3 * time.Second)
	})
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)

	fp.mu.Lock()
	fp.userinfoName = "bob"
	fp.mu.Unlock()

	// Within the TTL the cached value is served.
	again, err := fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Identity.UserInfo["preferred_username"])

	clock.Advance(4 * time.Second)

	again, err = fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	require.NoError(t, err)
	assert.Equal(t, "bob", again.Identity.UserInfo["preferred_username"])
}

func TestEmbeddedUserInfoRefetchedOnRefresh(t *testing.T) {
	clock := newTestClock()
	fp := newFakeProvider(t, clock)
	tenant := newFlowTenant(t, fp, func(tn *tenants.Tenant) {
		tn.UserInfoEndpoint = fp.server.URL + "/userinfo"
		tn.UserInfoMode = tenants.UserInfoModeEmbedded
	})
	fixture := newServiceFixture(t, fp, clock, tenant)

	authn := fixture.login(t, fp, tenant)
	assert.Equal(t, "alice", authn.Identity.UserInfo["preferred_username"])

	fp.mu.Lock()
	fp.userinfoName = "bob"
	fp.mu.Unlock()
	clock.Advance(5*time.Minute + time.Second)

	refreshed, err := fixture.service.Authenticate(context.Background(), tenant, authn.CookieValue)
	require.NoError(t, err)
	assert.Equal(t, "bob", refreshed.Identity.UserInfo["preferred_username"])
	assert.Equal(t, 0, fixture.cache.Size())
}
