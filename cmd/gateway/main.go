// Command gateway runs the API gateway: rate-limit admission, route
// resolution, authentication and admin gating, and authenticated
// reverse-proxy dispatch to authn and authz.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/nexusiam/controlplane/internal/authn"
	"github.com/nexusiam/controlplane/internal/gateway"
	"github.com/nexusiam/controlplane/internal/metrics"
	"github.com/nexusiam/controlplane/internal/middleware"
	"github.com/nexusiam/controlplane/internal/ratelimit"
	"github.com/nexusiam/controlplane/internal/tokens"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	host := getenv("GATEWAY_HOST", "0.0.0.0")
	port := getenv("GATEWAY_PORT", "8000")
	configPath := getenv("GATEWAY_CONFIG", "")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	jwtKey := getenv("JWT_SIGNING_KEY", "dev-secret-do-not-use-in-prod")

	cfgStore, err := gateway.NewConfigStore(configPath)
	if err != nil {
		log.Fatalf("gateway: config load error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfgStore.Watch(ctx)

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("gateway: warning: redis ping failed: %v", err)
	}

	tokenMgr := tokens.NewManager(jwtKey)
	blacklist := authn.NewBlacklist(rdb)
	jwtAuth := middleware.NewJWTAuth(tokenMgr, blacklist)

	cfg := cfgStore.Get()
	authzClient := gateway.NewAuthzClient(cfg.AuthzUpstream, cfg.UpstreamTimeout)
	healthTracker := gateway.NewHealthTracker(15*time.Second, map[string]string{
		"authn": cfg.AuthnUpstream,
		"authz": cfg.AuthzUpstream,
	})
	go healthTracker.Run(ctx)

	gw := gateway.New(cfgStore, authzClient, healthTracker)
	adminHandlers := gateway.NewAdminHandlers(cfgStore, healthTracker)
	metricsReg := metrics.New()

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep(30 * time.Minute)
			}
		}
	}()
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS)
	// OptionalAuth runs ahead of rate-limit admission so Admit can bucket
	// by authenticated caller identity rather than source address alone
	// (spec §4.4); it never rejects a request itself.
	r.Use(jwtAuth.OptionalAuth)
	r.Use(rateLimitMw.Admit)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metricsReg.Handler())

	r.Get("/gateway/health", adminHandlers.Health)
	r.Get("/gateway/metrics", adminHandlers.Metrics)
	r.Get("/gateway/config", adminHandlers.Config)

	r.Handle("/api/v1/*", gw)

	srv := &http.Server{
		Addr:    host + ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("gateway: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway: server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("gateway: graceful shutdown error: %v", err)
	}
	log.Println("gateway: stopped")
}
