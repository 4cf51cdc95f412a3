// Command authz runs the authorization service: policy storage, the
// deny-overrides-with-priority decision engine, bulk/batch evaluation, and
// the admin security-alert stream.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/nexusiam/controlplane/internal/audit"
	"github.com/nexusiam/controlplane/internal/authn"
	"github.com/nexusiam/controlplane/internal/authz"
	"github.com/nexusiam/controlplane/internal/data"
	"github.com/nexusiam/controlplane/internal/metrics"
	"github.com/nexusiam/controlplane/internal/middleware"
	"github.com/nexusiam/controlplane/internal/tokens"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dbHost := getenv("DB_HOST", "localhost")
	dbPort := getenv("DB_PORT", "5432")
	dbUser := getenv("DB_USER", "postgres")
	dbPass := getenv("DB_PASSWORD", "postgres")
	dbName := getenv("DB_NAME", "iam")
	dbSSLMode := getenv("DB_SSLMODE", "disable")
	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	jwtKey := getenv("JWT_SIGNING_KEY", "dev-secret-do-not-use-in-prod")
	natsURL := getenv("NATS_URL", "")
	spoolDir := getenv("AUDIT_SPOOL_DIR", "")
	host := getenv("AUTHZ_HOST", "0.0.0.0")
	port := getenv("AUTHZ_PORT", "8002")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, dbSSLMode)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("authz: db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("authz: db ping error: %v", err)
	}

	auditSvc := audit.NewService(db)
	auditSvc.Detector = audit.NewDetector(audit.DefaultDetectorConfig())
	if natsURL != "" {
		conn, err := nats.Connect(natsURL)
		if err != nil {
			log.Printf("authz: warning: nats connect failed, audit fan-out disabled: %v", err)
		} else {
			defer conn.Close()
			auditSvc.Bus = audit.NewNatsBus(conn)
		}
	}
	audit.ConfigureFailover(spoolDir, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auditSvc.StartReplayer(ctx)

	policyModel := data.PolicyModel{DB: db}
	engine := authz.NewEngine(policyModel, auditSvc, authz.DefaultConfig())
	policySvc := authz.NewPolicyService(policyModel, engine)
	metricsReg := metrics.New()
	audit.SpoolDropHook = func() { metricsReg.AuditSpoolDrops.Inc() }
	handlers := authz.NewHandlers(engine, policySvc, auditSvc)

	tokenMgr := tokens.NewManager(jwtKey)
	alertHub := authz.NewAlertHub(auditSvc, tokenMgr)
	go alertHub.Run(ctx, 5*time.Second)

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("authz: warning: redis ping failed: %v", err)
	}
	blacklist := authn.NewBlacklist(rdb)
	jwtAuth := middleware.NewJWTAuth(tokenMgr, blacklist)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	// /ws/alerts is excluded from chimiddleware.Timeout below: its
	// timeoutWriter doesn't implement http.Hijacker, which the
	// gorilla/websocket upgrade on alertHub.ServeWS needs, and the
	// connection is meant to stay open indefinitely anyway.
	r.Get("/ws/alerts", alertHub.ServeWS)

	r.Group(func(pr chi.Router) {
		pr.Use(chimiddleware.Timeout(30 * time.Second))

		pr.Get("/health", handlers.Health)
		pr.Get("/status", handlers.Status)
		pr.Handle("/metrics", metricsReg.Handler())

		// Mounted at root: the gateway strips "/api/v1/authz" before
		// forwarding, so authz's own route table starts at "/authorize",
		// "/policies", etc.
		pr.Group(func(ar chi.Router) {
			ar.Use(jwtAuth.Middleware)
			ar.Post("/authorize", handlers.Authorize)
			ar.Post("/authorize/bulk", handlers.AuthorizeBulk)
			ar.Post("/authorize/batch-optimized", handlers.AuthorizeBatchOptimized)

			ar.Get("/policies", handlers.ListPolicies)
			ar.Post("/policies", handlers.CreatePolicy)
			ar.Get("/policies/{id}", handlers.GetPolicy)
			ar.Put("/policies/{id}", handlers.UpdatePolicy)
			ar.Delete("/policies/{id}", handlers.DeletePolicy)

			ar.Get("/audit/decisions", handlers.QueryAuditDecisions)

			ar.Post("/admin/cache/clear", handlers.ClearCache)
			ar.Post("/admin/warm-cache", handlers.WarmCache)
			ar.Get("/admin/security-alerts", handlers.ListSecurityAlerts)
			ar.Post("/admin/security-alerts/{id}/acknowledge", handlers.AcknowledgeSecurityAlert)
		})
	})

	srv := &http.Server{
		Addr:    host + ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("authz: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("authz: server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("authz: graceful shutdown error: %v", err)
	}
	log.Println("authz: stopped")
}
