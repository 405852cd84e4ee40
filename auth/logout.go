package auth

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/sessions"
	"github.com/jrsteele09/go-oidc-session/tenants"
	"github.com/jrsteele09/go-oidc-session/token"
)

// LogoutURL builds the provider end-session redirect for an RP
// initiated logout. Tenants without an end-session endpoint fall back
// to the local return URL.
func (s *Service) LogoutURL(t *tenants.Tenant, returnURL string) string {
	if t.EndSessionEndpoint == "" {
		return returnURL
	}

	endSession, err := url.Parse(t.EndSessionEndpoint)
	if err != nil {
		return returnURL
	}
	query := endSession.Query()
	query.Set("returnTo", returnURL)
	query.Set("client_id", t.ClientID)
	endSession.RawQuery = query.Encode()
	return endSession.String()
}

// Logout drops the index entry behind a session cookie. Best effort:
// an unreadable cookie still logs out, there is just nothing to evict.
func (s *Service) Logout(ctx context.Context, t *tenants.Tenant, cookieValue string) {
	if cookieValue == "" {
		return
	}

	idToken, _, _, err := sessions.Decode(cookieValue, t.SessionKey())
	if err != nil {
		return
	}
	claims, err := token.Decode(idToken)
	if err != nil {
		return
	}
	if err := s.index.Delete(ctx, claims.Issuer, claims.SessionID); err != nil {
		s.logger.Debug().Err(err).Str("tenant", t.ID).Msg("logout eviction")
	}
}

// FrontChannelLogout evicts a single session named by the provider's
// iss and sid query parameters. Idempotent: unknown or already evicted
// sessions succeed.
func (s *Service) FrontChannelLogout(ctx context.Context, issuer, sessionID string) error {
	if issuer == "" || sessionID == "" {
		return nil
	}
	if err := s.index.Delete(ctx, issuer, sessionID); err != nil {
		if ierrors.Is(err, ierrors.ErrSessionNotFound) {
			return nil
		}
		return errors.Wrap(err, "Service.FrontChannelLogout")
	}
	return nil
}

// BackChannelLogout verifies a provider logout token and evicts the
// session it names, or every session of its subject when it carries no
// sid. The logout token must pass full signature validation, declare
// the back-channel logout event and carry no nonce.
func (s *Service) BackChannelLogout(ctx context.Context, rawLogoutToken string) error {
	unverified, err := token.Decode(rawLogoutToken)
	if err != nil {
		return err
	}

	issuerTenants, err := s.tenantRepo.GetByIssuer(unverified.Issuer)
	if err != nil {
		return errors.Wrapf(ierrors.ErrInvalidToken, "Service.BackChannelLogout unknown issuer %q", unverified.Issuer)
	}

	var lastErr error
	for _, t := range issuerTenants {
		claims, err := s.verifier.VerifyLogoutToken(rawLogoutToken, t)
		if err != nil {
			lastErr = err
			continue
		}

		if claims.SessionID != "" {
			if err := s.index.Delete(ctx, claims.Issuer, claims.SessionID); err != nil && !ierrors.Is(err, ierrors.ErrSessionNotFound) {
				return errors.Wrap(err, "Service.BackChannelLogout evict by sid")
			}
		} else {
			if err := s.index.DeleteBySubject(ctx, claims.Issuer, claims.Subject); err != nil {
				return errors.Wrap(err, "Service.BackChannelLogout evict by subject")
			}
		}

		s.logger.Info().
			Str("tenant", t.ID).
			Str("sid", claims.SessionID).
			Str("sub", claims.Subject).
			Msg("back-channel logout")
		return nil
	}

	return lastErr
}
