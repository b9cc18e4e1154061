// Package config loads application configuration from environment
// variables.  A .env file, when present, is loaded by main before Load is
// called.
package config

import (
	"log"
	"os"
	"time"

	"github.com/iliyamo/event-credentials/internal/credential"
)

// Storage backends selectable with STORE.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.
type Config struct {
	Env  string // APP_ENV (dev, test, prod)
	Port string // APP_PORT

	Store     string // STORE: mysql or memory
	DBUser    string // DB_USER
	DBPass    string // DB_PASS (empty allowed)
	DBHost    string // DB_HOST
	DBPort    string // DB_PORT
	DBName    string // DB_NAME
	DBMigrate bool   // DB_MIGRATE: apply the embedded schema at startup

	StaffJWTSecret string // STAFF_JWT_SECRET: verifies staff bearer tokens

	CredentialSecret        string        // CREDENTIAL_SECRET
	CredentialVersion       string        // CREDENTIAL_VERSION
	CredentialTokenTTL      time.Duration // CREDENTIAL_TOKEN_TTL
	CredentialKDFSalt       string        // CREDENTIAL_KDF_SALT
	CredentialKDFIterations int           // CREDENTIAL_KDF_ITERATIONS

	RabbitMQURL     string // RABBITMQ_URL (empty disables notifications)
	NotifyBuffer    int    // NOTIFY_BUFFER: pending notifications before drop
	ConsumerEnabled bool   // ACTIVITY_CONSUMER_ENABLED
	ActivityLogDir  string // ACTIVITY_LOG_DIR

	ImportNotifyBatch int           // IMPORT_NOTIFY_BATCH
	ImportNotifyDelay time.Duration // IMPORT_NOTIFY_DELAY
	ImportMaxBytes    int64         // IMPORT_MAX_BYTES
}

// Load reads configuration values from environment variables.  Required
// variables are enforced by must(); a missing value logs a fatal error
// and exits.  Database variables are only required with STORE=mysql.
func Load() Config {
	c := Config{
		Env:  envStr("APP_ENV", "dev"),
		Port: envStr("APP_PORT", "8080"),

		Store:     envStr("STORE", StoreMySQL),
		DBMigrate: envBool("DB_MIGRATE", false),

		StaffJWTSecret: must("STAFF_JWT_SECRET"),

		CredentialSecret:        must("CREDENTIAL_SECRET"),
		CredentialVersion:       envStr("CREDENTIAL_VERSION", credential.DefaultVersion),
		CredentialTokenTTL:      envDur("CREDENTIAL_TOKEN_TTL", credential.DefaultTokenTTL),
		CredentialKDFSalt:       envStr("CREDENTIAL_KDF_SALT", credential.DefaultKDFSalt),
		CredentialKDFIterations: envInt("CREDENTIAL_KDF_ITERATIONS", credential.DefaultKDFIterations),

		RabbitMQURL:     os.Getenv("RABBITMQ_URL"),
		NotifyBuffer:    envInt("NOTIFY_BUFFER", 1024),
		ConsumerEnabled: envBool("ACTIVITY_CONSUMER_ENABLED", true),
		ActivityLogDir:  envStr("ACTIVITY_LOG_DIR", "logs"),

		ImportNotifyBatch: envInt("IMPORT_NOTIFY_BATCH", 10),
		ImportNotifyDelay: envDur("IMPORT_NOTIFY_DELAY", 250*time.Millisecond),
		ImportMaxBytes:    int64(envInt("IMPORT_MAX_BYTES", 10<<20)),
	}
	switch c.Store {
	case StoreMySQL:
		c.DBUser = must("DB_USER")
		c.DBPass = os.Getenv("DB_PASS")
		c.DBHost = must("DB_HOST")
		c.DBPort = must("DB_PORT")
		c.DBName = must("DB_NAME")
	case StoreMemory:
	default:
		log.Fatalf("invalid STORE %q: want %s or %s", c.Store, StoreMySQL, StoreMemory)
	}
	return c
}

// CredentialConfig returns the issuer/verifier configuration.
func (c Config) CredentialConfig() credential.Config {
	return credential.Config{
		Secret:        []byte(c.CredentialSecret),
		Version:       c.CredentialVersion,
		TokenTTL:      c.CredentialTokenTTL,
		KDFSalt:       c.CredentialKDFSalt,
		KDFIterations: c.CredentialKDFIterations,
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
