package server

import (
	"encoding/json"
	"net/http"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/tenants"
)

// ProtectedResourceHandler is the application entry point for a tenant.
// A valid session serves the identity; anything else starts a fresh
// authorization code flow.
func (s *Server) ProtectedResourceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := s.tenant(w, r)
		if !ok {
			return
		}

		if cookieValue := sessionCookieValue(r, tenant.ID); cookieValue != "" {
			authn, err := s.auth.Authenticate(r.Context(), tenant, cookieValue)
			if err == nil {
				if authn.Refreshed {
					s.SetSessionCookie(w, r, authn)
				}
				s.writeIdentity(w, authn)
				return
			}
			s.logger.Debug().Err(err).Str("tenant", tenant.ID).Msg("session rejected")
			s.ClearSessionCookie(w, r, tenant.ID)
		}

		redirect, err := s.auth.BeginLogin(r.Context(), tenant, r.URL.RequestURI())
		if err != nil {
			s.writeError(w, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// CallbackHandler completes the code flow and redirects back to the
// URL that started it.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := s.tenant(w, r)
		if !ok {
			return
		}

		query := r.URL.Query()
		authn, err := s.auth.HandleCallback(r.Context(), tenant, query.Get("state"), query.Get("code"))
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.SetSessionCookie(w, r, authn)

		target := authn.ReturnURL
		if target == "" {
			target = "/" + tenant.ID
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// LogoutHandler performs an RP initiated logout: the local session is
// evicted, the cookie cleared and the browser sent to the provider's
// end-session endpoint.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := s.tenant(w, r)
		if !ok {
			return
		}

		s.auth.Logout(r.Context(), tenant, sessionCookieValue(r, tenant.ID))
		s.ClearSessionCookie(w, r, tenant.ID)

		returnTo := getScheme(r) + "://" + r.Host + "/" + tenant.ID
		http.Redirect(w, r, s.auth.LogoutURL(tenant, returnTo), http.StatusFound)
	}
}

// FrontChannelLogoutHandler handles the provider's iframe/redirect
// logout notification. Idempotent: already evicted sessions succeed.
func (s *Server) FrontChannelLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := s.tenant(w, r)
		if !ok {
			return
		}

		query := r.URL.Query()
		if err := s.auth.FrontChannelLogout(r.Context(), query.Get("iss"), query.Get("sid")); err != nil {
			s.writeError(w, err)
			return
		}
		s.ClearSessionCookie(w, r, tenant.ID)
		http.Redirect(w, r, "/"+tenant.ID, http.StatusFound)
	}
}

// BackChannelLogoutHandler handles the provider's server-to-server
// logout token POST. The response is 200 whether or not a session was
// actually evicted; only an unverifiable token is rejected.
func (s *Server) BackChannelLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		logoutToken := r.PostFormValue("logout_token")
		if logoutToken == "" {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		if err := s.auth.BackChannelLogout(r.Context(), logoutToken); err != nil {
			s.logger.Warn().Err(err).Msg("back-channel logout rejected")
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}
}

// ClearTokenCacheHandler drops every cached user-info entry.
func (s *Server) ClearTokenCacheHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.cache.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (*tenants.Tenant, bool) {
	tenant, err := s.tenantRepo.Get(r.PathValue("tenant"))
	if err != nil {
		http.Error(w, "404 - Tenant Not Found", http.StatusNotFound)
		return nil, false
	}
	return tenant, true
}

func (s *Server) writeIdentity(w http.ResponseWriter, authn *auth.Authentication) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tenant":   authn.TenantID,
		"subject":  authn.Identity.Subject,
		"userinfo": authn.Identity.UserInfo,
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case ierrors.Is(err, ierrors.ErrTenantNotFound):
		http.Error(w, "404 - Tenant Not Found", http.StatusNotFound)
	case ierrors.Is(err, ierrors.ErrStateMismatch):
		http.Error(w, "400 - Bad Request", http.StatusBadRequest)
	case ierrors.Is(err, ierrors.ErrInvalidToken),
		ierrors.Is(err, ierrors.ErrMalformedToken),
		ierrors.Is(err, ierrors.ErrTokenExpired),
		ierrors.Is(err, ierrors.ErrCrypto),
		ierrors.Is(err, ierrors.ErrDecryption),
		ierrors.Is(err, ierrors.ErrSessionDecode),
		ierrors.Is(err, ierrors.ErrUnauthenticated):
		http.Error(w, "401 - Unauthorized", http.StatusUnauthorized)
	case ierrors.Is(err, ierrors.ErrUpstream):
		http.Error(w, "502 - Upstream Provider Error", http.StatusBadGateway)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
