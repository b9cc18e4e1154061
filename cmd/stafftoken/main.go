// Command stafftoken mints a staff bearer token for the check-in API.
//
//	stafftoken -sub desk-3 -role STAFF -ttl 12h
//
// The signing secret is read from STAFF_JWT_SECRET (a .env file is
// honoured).
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/event-credentials/internal/middleware"
	"github.com/iliyamo/event-credentials/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "staff identifier (required)")
	role := flag.String("role", middleware.RoleStaff, "STAFF or ADMIN")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	secret := os.Getenv("STAFF_JWT_SECRET")
	if secret == "" {
		log.Fatal("missing required env var: STAFF_JWT_SECRET")
	}
	if *role != middleware.RoleStaff && *role != middleware.RoleAdmin {
		log.Fatalf("invalid role %q", *role)
	}
	tok, err := utils.NewStaffToken(secret, *sub, *role, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tok); err != nil {
		log.Fatal(err)
	}
}
