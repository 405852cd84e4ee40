package token

import (
	"time"
)

// Claim names the engine reads and writes beyond the registered set.
const (
	SessionIDClaim = "sid"
	NonceClaim     = "nonce"
	UserInfoClaim  = "userinfo"
	EventsClaim    = "events"
)

// Claims is the decoded view of a compact token. Immutable once
// decoded; derived from the token, never persisted independently.
type Claims struct {
	Issuer    string
	Subject   string
	SessionID string
	Nonce     string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Raw holds every payload claim as parsed JSON, including custom
	// claims not mapped to the fields above.
	Raw map[string]any
}

// Expired reports whether the token's exp claim has passed. Tokens
// without an exp claim never expire.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt)
}

// UserInfo returns the embedded user-info claim, or nil when absent.
func (c *Claims) UserInfo() map[string]any {
	info, _ := c.Raw[UserInfoClaim].(map[string]any)
	return info
}

func claimsFromMap(m map[string]any) *Claims {
	c := &Claims{Raw: m}
	c.Issuer, _ = m["iss"].(string)
	c.Subject, _ = m["sub"].(string)
	c.SessionID, _ = m[SessionIDClaim].(string)
	c.Nonce, _ = m[NonceClaim].(string)

	switch aud := m["aud"].(type) {
	case string:
		c.Audience = []string{aud}
	case []any:
		for _, v := range aud {
			if s, ok := v.(string); ok {
				c.Audience = append(c.Audience, s)
			}
		}
	}

	if iat, ok := m["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := m["exp"].(float64); ok {
		c.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return c
}
