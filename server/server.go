package server

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/internal/config"
	"github.com/jrsteele09/go-oidc-session/tenants"
	"github.com/jrsteele09/go-oidc-session/userinfo"
)

type Server struct {
	env    string // Environment (e.g., "development", "production")
	mux    *http.ServeMux
	routes []string
	config config.Config
	auth   *auth.Service

	tenantRepo tenants.Repo
	cache      *userinfo.Cache
	logger     zerolog.Logger

	backChannelLimiter *rate.Limiter
}

func New(
	cfg config.Config,
	tenantRepo tenants.Repo,
	cache *userinfo.Cache,
	authService *auth.Service,
	logger zerolog.Logger,
) (*Server, error) {
	if authService == nil {
		return nil, errors.New("[Server New] auth service is required")
	}

	s := &Server{
		mux:        http.NewServeMux(),
		config:     cfg,
		auth:       authService,
		tenantRepo: tenantRepo,
		cache:      cache,
		logger:     logger,

		// Back-channel logout is provider-to-RP traffic; a burst of a
		// few dozen a second is already generous.
		backChannelLimiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	s.env = cfg.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		s.logger.Debug().Str("route", route).Msg("registered")
	}
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
