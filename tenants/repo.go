package tenants

type Repo interface {
	Upsert(tenantData *Tenant) error
	Get(tenantID string) (*Tenant, error)
	// GetByIssuer resolves the tenants configured for an issuer; used by
	// back-channel logout, where only the logout token's iss claim is
	// available.
	GetByIssuer(issuer string) ([]*Tenant, error)
	List() ([]*Tenant, error)
}
