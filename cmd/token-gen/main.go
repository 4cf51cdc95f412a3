// Command token-gen mints a standalone access token for local development
// and manual API testing, signed with the same key the running services
// expect.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/nexusiam/controlplane/internal/tokens"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	userID := flag.String("user", "00000000-0000-0000-0000-000000000002", "subject user ID")
	username := flag.String("username", "admin", "username claim")
	scopes := flag.String("scopes", "admin,user", "comma-separated scopes")
	flag.Parse()

	jwtKey := getenv("JWT_SIGNING_KEY", "dev-secret-do-not-use-in-prod")
	mgr := tokens.NewManager(jwtKey)

	access, _, err := mgr.GenerateAccessToken(*userID, *username, "", strings.Split(*scopes, ","))
	if err != nil {
		fmt.Fprintf(os.Stderr, "token-gen: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(access)
}
