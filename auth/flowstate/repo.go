package flowstate

import "time"

// State is the per-login-attempt record created when the browser is
// redirected to the authorization endpoint and consumed exactly once by
// the matching callback.
type State struct {
	TenantID  string
	Nonce     string
	ReturnURL string
	CreatedAt time.Time
}

type Repo interface {
	Upsert(state string, flowState *State) error
	Get(state string) (*State, error)
	Delete(state string) error

	// DeleteExpired removes states created before the given time;
	// abandoned login attempts are cleaned up periodically.
	DeleteExpired(before time.Time) error
}
