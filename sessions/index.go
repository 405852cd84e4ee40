package sessions

import "context"

// Index is the server-side session index keyed by (issuer, sid). It is
// what makes back-channel logout work: the logout token names an
// (iss, sid) pair and the matching sessions are cleared here without
// the browser's involvement. The index is also consulted on every
// authenticated request, so a cleared session is dead even while the
// browser still holds its cookie.
type Index interface {
	Put(ctx context.Context, issuer, sessionID string, entry Entry) error
	Get(ctx context.Context, issuer, sessionID string) (Entry, error)
	Delete(ctx context.Context, issuer, sessionID string) error

	// Replace writes the entry only while the session is still
	// indexed, atomically with respect to Delete: a refresh never
	// resurrects a session a concurrent logout has cleared. Fails with
	// ErrSessionNotFound when the session is gone or expired.
	Replace(ctx context.Context, issuer, sessionID string, entry Entry) error

	// DeleteBySubject clears every session of a subject under an
	// issuer; used when a logout token carries sub but no sid.
	DeleteBySubject(ctx context.Context, issuer, subject string) error

	// Clear resets the whole index. Test/ops tooling; must be safe to
	// call concurrently with reads and writes.
	Clear(ctx context.Context) error
}
