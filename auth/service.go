package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-oidc-session/auth/flowstate"
	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/sessions"
	"github.com/jrsteele09/go-oidc-session/tenants"
	"github.com/jrsteele09/go-oidc-session/token"
	"github.com/jrsteele09/go-oidc-session/token/keys"
	"github.com/jrsteele09/go-oidc-session/userinfo"
)

const (
	stateLength = 32

	// stateTTL bounds how long a login attempt may sit between the
	// redirect and the callback before its state is swept.
	stateTTL = 10 * time.Minute

	// sessionLifetime bounds the whole browser session, refreshes
	// included. The internal ID token expires much earlier and drives
	// the refresh grant; this is the hard stop.
	sessionLifetime = 24 * time.Hour
)

// Service is the authorization code flow engine. It drives the
// UNAUTHENTICATED -> AWAITING_CALLBACK -> AUTHENTICATED state machine
// per login attempt; the session cookie is merely the serialized form
// of the AUTHENTICATED state.
type Service struct {
	tenantRepo   tenants.Repo
	states       flowstate.Repo
	index        sessions.Index
	cache        *userinfo.Cache
	fetcher      *userinfo.Fetcher
	introspector *token.IntrospectionClient
	verifier     *token.Verifier
	issuer       *token.Issuer

	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
	nowFunc    func() time.Time

	providerMu sync.RWMutex
	providers  map[string]*providerRuntime
}

// providerRuntime caches a tenant's OIDC discovery resolution.
type providerRuntime struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	endpoint oauth2.Endpoint
}

// Option defines a function type to modify the Service instance.
type Option func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = nowFunc
	}
}

// WithHTTPClient sets the client used for every outbound provider
// call. Its timeout is the upstream call timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.httpClient = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New initializes a new Service with required dependencies. baseURL is
// this relying party's externally visible base URL, used to build the
// per-tenant callback redirect URI.
func New(
	tenantRepo tenants.Repo,
	states flowstate.Repo,
	index sessions.Index,
	cache *userinfo.Cache,
	baseURL string,
	options ...Option,
) (*Service, error) {
	if tenantRepo == nil {
		return nil, errors.New("[auth.New] tenant repo is required")
	}
	if states == nil {
		return nil, errors.New("[auth.New] flow state repo is required")
	}
	if index == nil {
		return nil, errors.New("[auth.New] session index is required")
	}
	if cache == nil {
		return nil, errors.New("[auth.New] user-info cache is required")
	}

	s := &Service{
		tenantRepo: tenantRepo,
		states:     states,
		index:      index,
		cache:      cache,
		baseURL:    baseURL,
		logger:     zerolog.Nop(),
		nowFunc:    time.Now,
		providers:  make(map[string]*providerRuntime),
	}

	for _, opt := range options {
		opt(s)
	}

	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	s.fetcher = userinfo.NewFetcher(s.httpClient)
	s.introspector = token.NewIntrospectionClient(s.httpClient)
	s.verifier = token.NewVerifier(token.WithNowFunc(s.nowFunc))
	s.issuer = token.NewIssuer(token.WithIssuerNowFunc(s.nowFunc))

	return s, nil
}

// Identity is the authenticated principal served to the application.
type Identity struct {
	Subject  string
	Claims   *token.Claims
	UserInfo map[string]any
}

// Authentication is the outcome of a successful callback or session
// check: the cookie to (re)issue and the identity behind it.
type Authentication struct {
	TenantID    string
	CookieName  string
	CookieValue string
	MaxAge      int
	Identity    Identity

	// ReturnURL is the URL the login attempt started from, set on
	// callback completion only.
	ReturnURL string

	// Refreshed reports that the access token was silently renewed and
	// the cookie value changed.
	Refreshed bool
}

// BeginLogin stores the flow state for a new login attempt and returns
// the authorization endpoint redirect URL.
func (s *Service) BeginLogin(ctx context.Context, t *tenants.Tenant, returnURL string) (string, error) {
	if err := s.states.DeleteExpired(s.nowFunc().Add(-stateTTL)); err != nil {
		s.logger.Debug().Err(err).Msg("state sweep")
	}

	state := generateRandomString(stateLength)
	nonce := generateRandomString(stateLength)

	if err := s.states.Upsert(state, &flowstate.State{
		TenantID:  t.ID,
		Nonce:     nonce,
		ReturnURL: returnURL,
		CreatedAt: s.nowFunc(),
	}); err != nil {
		return "", errors.Wrap(err, "Service.BeginLogin store state")
	}

	cfg, err := s.oauth2Config(ctx, t)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce)), nil
}

// HandleCallback completes the code flow: the state must match a
// previously issued value, the code is exchanged at the token endpoint,
// the provider ID token is verified, user-info is fetched per tenant
// policy and the session cookie is built. No partial session survives a
// failure on any of these steps.
func (s *Service) HandleCallback(ctx context.Context, t *tenants.Tenant, state, code string) (*Authentication, error) {
	if state == "" || code == "" {
		return nil, errors.Wrap(ierrors.ErrStateMismatch, "Service.HandleCallback missing state or code")
	}

	flowState, err := s.states.Get(state)
	if err != nil {
		return nil, errors.Wrap(ierrors.ErrStateMismatch, "Service.HandleCallback unknown state")
	}
	if flowState.TenantID != t.ID {
		return nil, errors.Wrap(ierrors.ErrStateMismatch, "Service.HandleCallback state belongs to another tenant")
	}
	if err := s.states.Delete(state); err != nil {
		return nil, errors.Wrap(err, "Service.HandleCallback delete state")
	}

	cfg, err := s.oauth2Config(ctx, t)
	if err != nil {
		return nil, err
	}

	oauth2Token, err := cfg.Exchange(s.outboundContext(ctx), code)
	if err != nil {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "Service.HandleCallback exchange: %v", err)
	}

	claims, err := s.resolveIdentityClaims(ctx, t, oauth2Token, flowState.Nonce)
	if err != nil {
		return nil, err
	}

	var embedded map[string]any
	switch t.Mode() {
	case tenants.UserInfoModeEmbedded:
		embedded, err = s.fetcher.Fetch(ctx, t, oauth2Token.AccessToken)
		if err != nil {
			return nil, err
		}
	case tenants.UserInfoModeSeparate:
		info, err := s.fetcher.Fetch(ctx, t, oauth2Token.AccessToken)
		if err != nil {
			return nil, err
		}
		s.cache.Put(t.ID, claims.Subject, info, t.UserInfoCacheTTL.Std())
	}

	authn, err := s.establishSession(ctx, t, claims, embedded, oauth2Token.AccessToken, oauth2Token.RefreshToken, false)
	if err != nil {
		return nil, err
	}
	authn.ReturnURL = flowState.ReturnURL
	return authn, nil
}

// establishSession mints the internal ID token, encodes the cookie and
// records the session in the (issuer, sid) index. The inbound request
// must still be live: an aborted request never leaves an orphaned
// session behind.
func (s *Service) establishSession(
	ctx context.Context,
	t *tenants.Tenant,
	claims *token.Claims,
	embedded map[string]any,
	accessToken, refreshToken string,
	refreshed bool,
) (*Authentication, error) {
	internalToken, sid, err := s.issuer.IssueSessionToken(t, claims, embedded)
	if err != nil {
		return nil, err
	}

	cookieValue, err := sessions.Encode(internalToken, accessToken, refreshToken, t.SessionKey())
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ierrors.ErrUpstream, "Service.establishSession request aborted")
	}

	issuer := claims.Issuer
	if issuer == "" {
		issuer = t.Issuer
	}
	entry := sessions.Entry{
		TenantID:  t.ID,
		Subject:   claims.Subject,
		SessionID: sid,
		ExpiresAt: s.nowFunc().Add(sessionLifetime),
	}
	if refreshed {
		// Logout wins over refresh: the conditional write only lands
		// while the session is still indexed, so a logout that raced
		// the refresh exchange sticks.
		if err := s.index.Replace(ctx, issuer, sid, entry); err != nil {
			if ierrors.Is(err, ierrors.ErrSessionNotFound) {
				return nil, errors.Wrap(ierrors.ErrUnauthenticated, "Service.establishSession logged out during refresh")
			}
			return nil, errors.Wrap(err, "Service.establishSession index")
		}
	} else if err := s.index.Put(ctx, issuer, sid, entry); err != nil {
		return nil, errors.Wrap(err, "Service.establishSession index")
	}

	internalClaims, err := token.Decode(internalToken)
	if err != nil {
		return nil, err
	}

	identity, err := s.identity(ctx, t, internalClaims, accessToken)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("tenant", t.ID).
		Str("sid", sid).
		Bool("refreshed", refreshed).
		Msg("session established")

	return &Authentication{
		TenantID:    t.ID,
		CookieName:  sessions.CookieName(t.ID),
		CookieValue: cookieValue,
		MaxAge:      int(sessionLifetime.Seconds()),
		Identity:    identity,
		Refreshed:   refreshed,
	}, nil
}

// Authenticate resolves the session behind a cookie value. An expired
// internal ID token triggers the refresh grant transparently; a session
// evicted from the index (logout) is unauthenticated no matter what the
// cookie says, including when the eviction races the refresh.
func (s *Service) Authenticate(ctx context.Context, t *tenants.Tenant, cookieValue string) (*Authentication, error) {
	idToken, accessToken, refreshToken, err := sessions.Decode(cookieValue, t.SessionKey())
	if err != nil {
		return nil, err
	}

	claims, err := token.Decode(idToken)
	if err != nil {
		return nil, err
	}

	issuer := claims.Issuer
	if _, err := s.index.Get(ctx, issuer, claims.SessionID); err != nil {
		return nil, errors.Wrap(ierrors.ErrUnauthenticated, "Service.Authenticate session logged out")
	}

	if !claims.Expired(s.nowFunc()) {
		identity, err := s.identity(ctx, t, claims, accessToken)
		if err != nil {
			return nil, err
		}
		return &Authentication{
			TenantID:    t.ID,
			CookieName:  sessions.CookieName(t.ID),
			CookieValue: cookieValue,
			MaxAge:      int(sessionLifetime.Seconds()),
			Identity:    identity,
		}, nil
	}

	if refreshToken == "" {
		_ = s.index.Delete(ctx, issuer, claims.SessionID)
		return nil, errors.Wrap(ierrors.ErrTokenExpired, "Service.Authenticate no refresh token")
	}

	newToken, err := s.refresh(ctx, t, refreshToken)
	if err != nil {
		// A rejected refresh grant means the provider revoked the
		// session; drop it and force a fresh login.
		_ = s.index.Delete(ctx, issuer, claims.SessionID)
		return nil, err
	}

	accessToken = newToken.AccessToken
	if newToken.RefreshToken != "" {
		refreshToken = newToken.RefreshToken
	}

	refreshedClaims := claims
	if rawIDToken, ok := newToken.Extra("id_token").(string); ok && rawIDToken != "" {
		verified, err := s.verifyProviderIDToken(ctx, t, rawIDToken)
		if err != nil {
			return nil, err
		}
		// The session identifier is stable across refreshes.
		verified.SessionID = claims.SessionID
		refreshedClaims = verified
	}

	var embedded map[string]any
	if t.Mode() == tenants.UserInfoModeEmbedded {
		embedded, err = s.fetcher.Fetch(ctx, t, accessToken)
		if err != nil {
			return nil, err
		}
	}

	return s.establishSession(ctx, t, refreshedClaims, embedded, accessToken, refreshToken, true)
}

// refresh runs the refresh token grant at the tenant's token endpoint.
func (s *Service) refresh(ctx context.Context, t *tenants.Tenant, refreshToken string) (*oauth2.Token, error) {
	cfg, err := s.oauth2Config(ctx, t)
	if err != nil {
		return nil, err
	}

	source := cfg.TokenSource(s.outboundContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := source.Token()
	if err != nil {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "Service.refresh: %v", err)
	}
	return newToken, nil
}

// resolveIdentityClaims extracts the authenticated identity from a
// token endpoint response. Tenants issuing ID tokens go through the
// mandatory verification path; tenants with opaque access tokens
// resolve the subject at the introspection endpoint instead.
func (s *Service) resolveIdentityClaims(ctx context.Context, t *tenants.Tenant, oauth2Token *oauth2.Token, nonce string) (*token.Claims, error) {
	if rawIDToken, ok := oauth2Token.Extra("id_token").(string); ok && rawIDToken != "" {
		claims, err := s.verifyProviderIDToken(ctx, t, rawIDToken)
		if err != nil {
			return nil, err
		}
		// The ID token must echo the nonce issued at login; a token
		// with the claim stripped is as invalid as one with the wrong
		// value.
		if nonce != "" && claims.Nonce != nonce {
			return nil, errors.Wrap(ierrors.ErrInvalidToken, "Service.resolveIdentityClaims nonce mismatch")
		}
		return claims, nil
	}

	if t.IntrospectionEndpoint != "" {
		introspection, err := s.introspector.Introspect(ctx, t, oauth2Token.AccessToken)
		if err != nil {
			return nil, err
		}
		if !introspection.Active {
			return nil, errors.Wrap(ierrors.ErrInvalidToken, "Service.resolveIdentityClaims token not active")
		}
		return &token.Claims{
			Issuer:  t.Issuer,
			Subject: introspection.Subject(),
			Raw:     map[string]any{},
		}, nil
	}

	return nil, errors.Wrap(ierrors.ErrInvalidToken, "Service.resolveIdentityClaims no id_token in response")
}

// verifyProviderIDToken runs the mandatory signature and expiry
// validation for a provider ID token, decrypting it first when the
// tenant's provider encrypts ID tokens.
func (s *Service) verifyProviderIDToken(ctx context.Context, t *tenants.Tenant, rawIDToken string) (*token.Claims, error) {
	if t.DiscoveryURL == "" {
		return s.verifier.Verify(rawIDToken, t)
	}

	runtime, err := s.providerRuntime(ctx, t)
	if err != nil {
		return nil, err
	}

	if token.IsEncrypted(rawIDToken) {
		decrypted, err := keys.Decrypt(rawIDToken, t.SessionKey())
		if err != nil {
			return nil, err
		}
		rawIDToken = decrypted
	}

	if _, err := runtime.verifier.Verify(ctx, rawIDToken); err != nil {
		return nil, errors.Wrapf(ierrors.ErrInvalidToken, "Service.verifyProviderIDToken: %v", err)
	}
	return token.Decode(rawIDToken)
}

// identity resolves the principal served for a session: introspected
// subject for opaque-token tenants, cached or embedded user-info per
// tenant mode.
func (s *Service) identity(ctx context.Context, t *tenants.Tenant, claims *token.Claims, accessToken string) (Identity, error) {
	identity := Identity{Subject: claims.Subject, Claims: claims}

	if t.IntrospectionEndpoint != "" {
		introspection, err := s.introspector.Introspect(ctx, t, accessToken)
		if err != nil {
			return Identity{}, err
		}
		if !introspection.Active {
			return Identity{}, errors.Wrap(ierrors.ErrUnauthenticated, "Service.identity access token not active")
		}
		if subject := introspection.Subject(); subject != "" {
			identity.Subject = subject
		}
	}

	switch t.Mode() {
	case tenants.UserInfoModeEmbedded:
		identity.UserInfo = claims.UserInfo()
	case tenants.UserInfoModeSeparate:
		if cached, ok := s.cache.Get(t.ID, claims.Subject); ok {
			identity.UserInfo = cached.Claims
			break
		}
		info, err := s.fetcher.Fetch(ctx, t, accessToken)
		if err != nil {
			return Identity{}, err
		}
		s.cache.Put(t.ID, claims.Subject, info, t.UserInfoCacheTTL.Std())
		identity.UserInfo = info
	}

	return identity, nil
}

func (s *Service) oauth2Config(ctx context.Context, t *tenants.Tenant) (*oauth2.Config, error) {
	endpoint := oauth2.Endpoint{
		AuthURL:  t.AuthorizationEndpoint,
		TokenURL: t.TokenEndpoint,
	}
	if t.DiscoveryURL != "" {
		runtime, err := s.providerRuntime(ctx, t)
		if err != nil {
			return nil, err
		}
		endpoint = runtime.endpoint
	}

	return &oauth2.Config{
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  s.baseURL + "/" + t.ID + "/callback",
		Scopes:       []string{oidc.ScopeOpenID},
	}, nil
}

// providerRuntime resolves (and caches) a tenant's endpoints and
// verifier via OIDC discovery.
func (s *Service) providerRuntime(ctx context.Context, t *tenants.Tenant) (*providerRuntime, error) {
	s.providerMu.RLock()
	runtime, exists := s.providers[t.ID]
	s.providerMu.RUnlock()
	if exists {
		return runtime, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, s.httpClient), t.DiscoveryURL)
	if err != nil {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "Service.providerRuntime discovery for tenant %s: %v", t.ID, err)
	}

	runtime = &providerRuntime{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: t.ClientID}),
		endpoint: provider.Endpoint(),
	}

	s.providerMu.Lock()
	s.providers[t.ID] = runtime
	s.providerMu.Unlock()
	return runtime, nil
}

// outboundContext routes x/oauth2 calls through the service's timeout
// bounded HTTP client.
func (s *Service) outboundContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
