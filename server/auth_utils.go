package server

import (
	"net/http"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/sessions"
)

func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, authn *auth.Authentication) {
	isSecure := getScheme(r) == "https"

	http.SetCookie(w, &http.Cookie{
		Name:     authn.CookieName,
		Value:    authn.CookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   authn.MaxAge,
	})
}

func (s *Server) ClearSessionCookie(w http.ResponseWriter, r *http.Request, tenantID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessions.CookieName(tenantID),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// sessionCookieValue reads the tenant's session cookie, empty when
// absent.
func sessionCookieValue(r *http.Request, tenantID string) string {
	cookie, err := r.Cookie(sessions.CookieName(tenantID))
	if err != nil {
		return ""
	}
	return cookie.Value
}
