package flowstate

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]*State),
	}
}

func (r *InMemoryRepo) Upsert(state string, flowState *State) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flowState == nil {
		return errors.New("flowState cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *flowState
	r.states[state] = &copied
	return nil
}

func (r *InMemoryRepo) Get(state string) (*State, error) {
	if state == "" {
		return nil, errors.Wrap(ierrors.ErrStateMismatch, "state cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	flowState, exists := r.states[state]
	if !exists {
		return nil, errors.Wrap(ierrors.ErrStateMismatch, "state not found")
	}

	copied := *flowState
	return &copied, nil
}

func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

func (r *InMemoryRepo) DeleteExpired(before time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for state, flowState := range r.states {
		if flowState.CreatedAt.Before(before) {
			delete(r.states, state)
		}
	}
	return nil
}
