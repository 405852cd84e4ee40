package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/auth/flowstate"
	"github.com/jrsteele09/go-oidc-session/internal/config"
	"github.com/jrsteele09/go-oidc-session/server"
	"github.com/jrsteele09/go-oidc-session/sessions"
	"github.com/jrsteele09/go-oidc-session/tenants"
	"github.com/jrsteele09/go-oidc-session/userinfo"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", c.GetAppName()).Logger()

	tenantRepo, err := tenants.NewRepoFromFile(c.GetTenantsFile())
	if err != nil {
		return fmt.Errorf("tenants.NewRepoFromFile: %w", err)
	}

	index, err := sessionIndex(c)
	if err != nil {
		return fmt.Errorf("sessionIndex: %w", err)
	}

	cache := userinfo.NewCache(userinfo.WithMaxPerTenant(c.GetUserInfoCacheBound()))

	authService, err := auth.New(
		tenantRepo,
		flowstate.NewInMemoryRepo(),
		index,
		cache,
		c.GetBaseURL(),
		auth.WithLogger(logger),
		auth.WithHTTPClient(&http.Client{Timeout: time.Duration(c.GetUpstreamTimeoutSeconds()) * time.Second}),
	)
	if err != nil {
		return fmt.Errorf("auth.New: %w", err)
	}

	handler, err := server.New(c, tenantRepo, cache, authService, logger)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func sessionIndex(c config.Config) (sessions.Index, error) {
	switch c.GetSessionStore() {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return sessions.NewRedisIndex(client), nil
	default:
		return sessions.NewMemoryIndex(), nil
	}
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
