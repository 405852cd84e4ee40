package tenants

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
)

type tenantsFile struct {
	Tenants []*Tenant `yaml:"tenants"`
}

// Load parses the tenants YAML document, validates every tenant and
// resolves its session encryption key. A single bad tenant fails the
// whole load: configuration errors are fatal at startup.
func Load(data []byte) ([]*Tenant, error) {
	var file tenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(ierrors.ErrConfiguration, err.Error())
	}
	if len(file.Tenants) == 0 {
		return nil, errors.Wrap(ierrors.ErrConfiguration, "no tenants defined")
	}

	for _, t := range file.Tenants {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if err := t.ResolveSessionKey(); err != nil {
			return nil, err
		}
	}
	return file.Tenants, nil
}

// NewRepoFromFile loads a tenants YAML file into an in-memory repo.
func NewRepoFromFile(path string) (*InMemoryRepo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ierrors.ErrConfiguration, "reading tenants file %s: %v", path, err)
	}

	loaded, err := Load(data)
	if err != nil {
		return nil, err
	}

	repo := NewInMemoryRepo()
	for _, t := range loaded {
		if err := repo.Upsert(t); err != nil {
			return nil, err
		}
	}
	return repo, nil
}
