package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/tenants"
)

// Introspection represents the metadata information of an OAuth 2.0
// token as returned by an introspection endpoint. The 'active' field
// indicates the state of the token - if it's false, other fields may
// not be populated.
type Introspection struct {
	Active   bool    `json:"active"`
	Username string  `json:"username,omitempty"`
	Sub      *string `json:"sub,omitempty"`
	Aud      *string `json:"aud,omitempty"`
	Iss      *string `json:"iss,omitempty"`
	Exp      *int64  `json:"exp,omitempty"`
	Iat      *int64  `json:"iat,omitempty"`
	ClientID string  `json:"client_id,omitempty"`
}

// Subject returns the best identity the introspection response offers:
// the username when present, otherwise the sub claim.
func (i *Introspection) Subject() string {
	if i.Username != "" {
		return i.Username
	}
	if i.Sub != nil {
		return *i.Sub
	}
	return ""
}

// IntrospectionClient resolves opaque access tokens at a tenant's
// introspection endpoint. Used by tenants whose access tokens are not
// parseable JWTs.
type IntrospectionClient struct {
	httpClient *http.Client
}

func NewIntrospectionClient(httpClient *http.Client) *IntrospectionClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &IntrospectionClient{httpClient: httpClient}
}

// Introspect posts the token to the tenant's introspection endpoint
// with client credentials. Endpoint failures surface as ErrUpstream.
func (c *IntrospectionClient) Introspect(ctx context.Context, t *tenants.Tenant, rawToken string) (*Introspection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &Introspection{Active: false}, nil
	}
	if t.IntrospectionEndpoint == "" {
		return nil, errors.Wrapf(ierrors.ErrConfiguration, "tenant %s has no introspection endpoint", t.ID)
	}

	form := url.Values{"token": {rawToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "IntrospectionClient.Introspect build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.ClientID, t.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "IntrospectionClient.Introspect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "IntrospectionClient.Introspect status %d", resp.StatusCode)
	}

	var result Introspection
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrapf(ierrors.ErrUpstream, "IntrospectionClient.Introspect decode: %v", err)
	}
	return &result, nil
}
