package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/security"
)

// Issues an access token signed with auth.jwt_secret so the admin API can be
// exercised locally without the ticketing auth service.
func main() {
	userID := flag.Int64("user", 1, "user id placed in the sub claim")
	staff := flag.Bool("staff", true, "grant the staff claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	verifier := security.NewTokenVerifier(cfg.Auth.JWTSecret)
	token, err := verifier.Issue(security.Identity{UserID: *userID, Staff: *staff}, *ttl)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}

	fmt.Println(token)
}
