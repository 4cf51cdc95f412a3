// Command authn runs the authentication service: credential verification,
// token issuance and rotation, session lifecycle, and the audit sink it
// shares with authz.
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
	adminPassword := getenv("DEFAULT_ADMIN_PASSWORD", "ChangeMe123!")
	host := getenv("AUTH_HOST", "0.0.0.0")
	port := getenv("AUTH_PORT", "8001")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, dbSSLMode)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("authn: db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("authn: db ping error: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("authn: warning: redis ping failed: %v", err)
	}

	auditSvc := audit.NewService(db)
	auditSvc.Detector = audit.NewDetector(audit.DefaultDetectorConfig())
	if natsURL != "" {
		conn, err := nats.Connect(natsURL)
		if err != nil {
			log.Printf("authn: warning: nats connect failed, audit fan-out disabled: %v", err)
		} else {
			defer conn.Close()
			auditSvc.Bus = audit.NewNatsBus(conn)
		}
	}
	audit.ConfigureFailover(spoolDir, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auditSvc.StartReplayer(ctx)

	tokenMgr := tokens.NewManager(jwtKey)
	sessions := authn.NewSessionStore(rdb)
	blacklist := authn.NewBlacklist(rdb)
	metricsReg := metrics.New()
	audit.SpoolDropHook = func() { metricsReg.AuditSpoolDrops.Inc() }

	svc := authn.NewService(
		data.UserModel{DB: db},
		data.TokenModel{DB: db},
		tokenMgr,
		sessions,
		blacklist,
		auditSvc,
		metricsReg,
		authn.DefaultConfig(),
	)

	if err := svc.Bootstrap(ctx, adminPassword); err != nil {
		log.Fatalf("authn: bootstrap failed: %v", err)
	}

	handlers := authn.NewHandlers(svc)
	jwtAuth := middleware.NewJWTAuth(tokenMgr, blacklist)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS)

	r.Get("/health", handlers.Health)
	r.Handle("/metrics", metricsReg.Handler())

	// Bare paths per spec.md §6: authn is independently addressable at
	// /auth/*, /users/*, /sessions/* with no /api/v1 prefix. The gateway
	// strips /api/v1 before forwarding here (see gateway.DefaultConfig's
	// route table), exactly as it already does for the authz upstream.
	r.Post("/auth/login", handlers.Login)
	r.Post("/auth/refresh", handlers.Refresh)
	r.Get("/auth/validate", handlers.ValidateToken)

	r.Group(func(pr chi.Router) {
		pr.Use(jwtAuth.Middleware)
		pr.Post("/auth/logout", handlers.Logout)
		pr.Get("/users/me", handlers.GetMe)
		pr.Put("/users/me", handlers.UpdateMe)
		pr.Post("/users/change-password", handlers.ChangePassword)
		pr.Get("/sessions/me", handlers.ListSessions)
		pr.Delete("/sessions/{id}", handlers.EndSession)
		pr.Delete("/sessions/all", handlers.EndAllSessions)
	})

	srv := &http.Server{
		Addr:    host + ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("authn: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("authn: server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("authn: graceful shutdown error: %v", err)
	}
	log.Println("authn: stopped")
}
