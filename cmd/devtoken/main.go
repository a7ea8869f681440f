// Command devtoken mints a gateway token for local testing. It signs with
// JWT_SECRET, the same key the user service uses in a real deployment.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"go-chat-gateway/internal/auth"
)

func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "user id to put in the token")
	username := flag.String("name", "", "display name")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing key (defaults to JWT_SECRET)")
	flag.Parse()

	if *userID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <id> [-name <name>] [-ttl 1h] [-secret key]")
		os.Exit(2)
	}

	token, err := auth.NewVerifier(*secret, "devtoken").Issue(auth.Identity{
		ID:       *userID,
		Username: *username,
	}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
