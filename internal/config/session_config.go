package config

import "strconv"

// Session holds the server-side session index and cache settings.
// SESSION_STORE selects the back-channel logout index backend:
// "memory" (default, single instance) or "redis" (multi instance).
type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetSessionStore() string {
	return GetEnv(sessionEnvVar, "memory")
}

func (Session) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Session) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

// GetUpstreamTimeoutSeconds bounds every outbound call to the token,
// user-info and introspection endpoints.
func (Session) GetUpstreamTimeoutSeconds() int {
	return getIntEnv("UPSTREAM_TIMEOUT_SECONDS", 10)
}

func (Session) GetUserInfoCacheBound() int {
	return getIntEnv("USERINFO_CACHE_BOUND", 1000)
}

func getIntEnv(envVar string, defaultValue int) int {
	value := GetEnv(envVar, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
