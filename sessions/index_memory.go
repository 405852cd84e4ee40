package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
)

// MemoryIndex is the in-process Index implementation. Sessions are
// partitioned by issuer so one tenant's traffic never serializes
// another's; the outer lock only guards partition lookup.
type MemoryIndex struct {
	mu         sync.RWMutex
	partitions map[string]*indexPartition

	nowFunc func() time.Time
}

type indexPartition struct {
	mu       sync.RWMutex
	sessions map[string]Entry
}

type MemoryIndexOption func(*MemoryIndex)

// WithIndexNowFunc sets the now time function (primarily for testing)
func WithIndexNowFunc(now func() time.Time) MemoryIndexOption {
	return func(i *MemoryIndex) {
		i.nowFunc = now
	}
}

func NewMemoryIndex(options ...MemoryIndexOption) *MemoryIndex {
	i := &MemoryIndex{
		partitions: make(map[string]*indexPartition),
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

func (i *MemoryIndex) Put(_ context.Context, issuer, sessionID string, entry Entry) error {
	if issuer == "" || sessionID == "" {
		return errors.New("issuer and sessionID are required")
	}

	p := i.partition(issuer)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sessionID] = entry
	return nil
}

func (i *MemoryIndex) Get(_ context.Context, issuer, sessionID string) (Entry, error) {
	p := i.lookupPartition(issuer)
	if p == nil {
		return Entry{}, errors.Wrapf(ierrors.ErrSessionNotFound, "session %q", sessionID)
	}

	p.mu.RLock()
	entry, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return Entry{}, errors.Wrapf(ierrors.ErrSessionNotFound, "session %q", sessionID)
	}

	if !entry.ExpiresAt.IsZero() && i.nowFunc().After(entry.ExpiresAt) {
		p.mu.Lock()
		delete(p.sessions, sessionID)
		p.mu.Unlock()
		return Entry{}, errors.Wrapf(ierrors.ErrSessionNotFound, "session %q expired", sessionID)
	}
	return entry, nil
}

func (i *MemoryIndex) Replace(_ context.Context, issuer, sessionID string, entry Entry) error {
	p := i.lookupPartition(issuer)
	if p == nil {
		return errors.Wrapf(ierrors.ErrSessionNotFound, "session %q", sessionID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	existing, ok := p.sessions[sessionID]
	if !ok {
		return errors.Wrapf(ierrors.ErrSessionNotFound, "session %q", sessionID)
	}
	if !existing.ExpiresAt.IsZero() && i.nowFunc().After(existing.ExpiresAt) {
		delete(p.sessions, sessionID)
		return errors.Wrapf(ierrors.ErrSessionNotFound, "session %q expired", sessionID)
	}
	p.sessions[sessionID] = entry
	return nil
}

func (i *MemoryIndex) Delete(_ context.Context, issuer, sessionID string) error {
	p := i.lookupPartition(issuer)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
	return nil
}

func (i *MemoryIndex) DeleteBySubject(_ context.Context, issuer, subject string) error {
	p := i.lookupPartition(issuer)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for sessionID, entry := range p.sessions {
		if entry.Subject == subject {
			delete(p.sessions, sessionID)
		}
	}
	return nil
}

func (i *MemoryIndex) Clear(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.partitions = make(map[string]*indexPartition)
	return nil
}

// Size reports the number of indexed sessions across all issuers.
func (i *MemoryIndex) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	total := 0
	for _, p := range i.partitions {
		p.mu.RLock()
		total += len(p.sessions)
		p.mu.RUnlock()
	}
	return total
}

func (i *MemoryIndex) partition(issuer string) *indexPartition {
	i.mu.RLock()
	p, ok := i.partitions[issuer]
	i.mu.RUnlock()
	if ok {
		return p
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok = i.partitions[issuer]; ok {
		return p
	}
	p = &indexPartition{sessions: make(map[string]Entry)}
	i.partitions[issuer] = p
	return p
}

func (i *MemoryIndex) lookupPartition(issuer string) *indexPartition {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.partitions[issuer]
}
