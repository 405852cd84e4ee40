package userinfo

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/tenants"
)

// Fetcher retrieves user-info from a tenant's user-info endpoint with
// the session's bearer access token. The HTTP client's timeout bounds
// the call; failures surface as ErrUpstream.
type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{httpClient: httpClient}
}

func (f *Fetcher) Fetch(ctx context.Context, t *tenants.Tenant, accessToken string) (map[string]any, error) {
	if t.UserInfoEndpoint == "" {
		return nil, errors.Wrapf(ierrors.ErrConfiguration, "tenant %s has no user-info endpoint", t.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.UserInfoEndpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Fetcher.Fetch build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "Fetcher.Fetch: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "Fetcher.Fetch status %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "Fetcher.Fetch decode: %v", err)
	}
	return claims, nil
}
