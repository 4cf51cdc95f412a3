// Command seed-admin idempotently creates the default admin user, for
// environments that want to run bootstrap separately from starting the
// authn service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/nexusiam/controlplane/internal/authn"
	"github.com/nexusiam/controlplane/internal/data"
	"github.com/nexusiam/controlplane/internal/metrics"
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
	jwtKey := getenv("JWT_SIGNING_KEY", "dev-secret-do-not-use-in-prod")
	adminPassword := getenv("DEFAULT_ADMIN_PASSWORD", "ChangeMe123!")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, dbSSLMode)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("seed-admin: db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("seed-admin: db ping error: %v", err)
	}

	svc := authn.NewService(
		data.UserModel{DB: db},
		data.TokenModel{DB: db},
		tokens.NewManager(jwtKey),
		nil, // no session store needed to create the user row
		nil, // no blacklist needed to create the user row
		nil, // audit sink optional; Bootstrap skips the record if nil
		metrics.New(),
		authn.DefaultConfig(),
	)

	if err := svc.Bootstrap(context.Background(), adminPassword); err != nil {
		log.Fatalf("seed-admin: bootstrap failed: %v", err)
	}
	fmt.Println("seed-admin: default admin user is present")
}
