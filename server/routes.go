package server

const (
	RouteClearTokenCache   = "/clear-token-cache"
	RouteBackChannelLogout = "/back-channel-logout"

	RouteTenantRoot               = "/{tenant}"
	RouteTenantCallback           = "/{tenant}/callback"
	RouteTenantLogout             = "/{tenant}/logout"
	RouteTenantFrontChannelLogout = "/{tenant}/front-channel-logout"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteClearTokenCache, ChainMiddleware(s.ClearTokenCacheHandler(), s.StandardMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteBackChannelLogout, ChainMiddleware(s.BackChannelLogoutHandler(), s.BackChannelMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteTenantRoot, ChainMiddleware(s.ProtectedResourceHandler(), s.StandardMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteTenantCallback, ChainMiddleware(s.CallbackHandler(), s.StandardMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteTenantLogout, ChainMiddleware(s.LogoutHandler(), s.StandardMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteTenantFrontChannelLogout, ChainMiddleware(s.FrontChannelLogoutHandler(), s.StandardMiddleware()...))
}
