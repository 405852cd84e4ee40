package tenants

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
)

// InMemoryRepo is a thread-safe in-memory implementation of Repo.
// Tenant configuration is immutable after load, so reads dominate.
type InMemoryRepo struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		tenants: make(map[string]*Tenant),
	}
}

func (r *InMemoryRepo) Upsert(tenantData *Tenant) error {
	if tenantData == nil {
		return errors.New("tenant cannot be nil")
	}
	if tenantData.ID == "" {
		return errors.Wrap(ierrors.ErrConfiguration, "tenant id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenantData.ID] = tenantData
	return nil
}

func (r *InMemoryRepo) Get(tenantID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, errors.Wrapf(ierrors.ErrTenantNotFound, "tenant %q", tenantID)
	}
	return t, nil
}

func (r *InMemoryRepo) GetByIssuer(issuer string) ([]*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Tenant
	for _, t := range r.tenants {
		if t.Issuer == issuer {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return nil, errors.Wrapf(ierrors.ErrTenantNotFound, "issuer %q", issuer)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (r *InMemoryRepo) List() ([]*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}
