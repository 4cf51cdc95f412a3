// Command hasher prints the Argon2id encoding of a password, for seeding
// or rotating credentials outside the running services.
package main

import (
	"fmt"
	"os"

	"github.com/nexusiam/controlplane/internal/password"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(1)
	}

	hash, err := password.Hash(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
