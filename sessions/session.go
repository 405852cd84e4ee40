package sessions

import "time"

// CookieNamePrefix is the base name of the session cookie. Tenant
// cookies are suffixed with the tenant id.
const CookieNamePrefix = "q_session"

// CookieName returns the session cookie name for a tenant. An empty
// tenant id yields the bare prefix.
func CookieName(tenantID string) string {
	if tenantID == "" {
		return CookieNamePrefix
	}
	return CookieNamePrefix + "_" + tenantID
}

// Entry is the server-held index record for one session, keyed by
// (issuer, sid). Written on session creation, removed on any logout
// path; expired entries are treated as absent on read.
type Entry struct {
	TenantID  string    `json:"tenant_id"`
	Subject   string    `json:"subject"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
